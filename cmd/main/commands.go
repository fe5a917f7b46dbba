package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/CTAG07/markovchain/pkg/markov"
	"github.com/CTAG07/markovchain/pkg/markovdb"
	"github.com/CTAG07/markovchain/pkg/text"
	"github.com/natefinch/atomic"
)

const defaultConfigPath = "config.json"

// genFlags holds the generation settings shared by the commands that print
// generated text.
type genFlags struct {
	max         int
	random      bool
	seed        uint64
	temperature float64
	topK        int
	join        bool
}

func (g *genFlags) register(fs *flag.FlagSet, randomDefault bool) {
	def := DefaultConfig()
	fs.IntVar(&g.max, "max", def.MaxLength, "maximum number of tokens to generate")
	fs.BoolVar(&g.random, "random", randomDefault, "start from a random context instead of the beginning of a sequence")
	fs.Uint64Var(&g.seed, "seed", def.Seed, "random seed, 0 for an unseeded generator")
	fs.Float64Var(&g.temperature, "temperature", def.Temperature, "sampling temperature, 0 always picks the most frequent outcome")
	fs.IntVar(&g.topK, "topk", def.TopK, "only sample among the k most frequent outcomes, 0 for all")
	fs.BoolVar(&g.join, "join", false, "print the output as joined text instead of one token per line")
}

// applyConfig fills every flag the user did not set from cfg.
func (g *genFlags) applyConfig(fs *flag.FlagSet, cfg *Config) {
	set := setFlags(fs)
	if !set["max"] {
		g.max = cfg.MaxLength
	}
	if !set["seed"] {
		g.seed = cfg.Seed
	}
	if !set["temperature"] {
		g.temperature = cfg.Temperature
	}
	if !set["topk"] {
		g.topK = cfg.TopK
	}
}

func (g *genFlags) chainOptions(logger *slog.Logger) []markov.Option {
	opts := []markov.Option{markov.WithLogger(logger)}
	if g.seed != 0 {
		opts = append(opts, markov.WithRand(markov.NewSeededRand(g.seed)))
	}
	return opts
}

// generate runs one generation and prints it. An untrained chain prints nothing.
func (g *genFlags) generate(chain *markov.Chain[string], tokenizer *text.Tokenizer, stdout io.Writer) error {
	opts := []markov.GenerateOption{markov.WithTemperature(g.temperature), markov.WithTopK(g.topK)}
	var tokens []string
	if g.random {
		var err error
		if _, tokens, err = chain.GenerateFromRandomContext(g.max, opts...); err != nil && !errors.Is(err, markov.ErrEmptyChain) {
			return err
		}
	} else {
		tokens = chain.Generate(g.max, opts...)
	}

	if g.join {
		_, err := fmt.Fprintln(stdout, tokenizer.Join(tokens))
		return err
	}
	for _, tok := range tokens {
		if _, err := fmt.Fprintln(stdout, tok); err != nil {
			return err
		}
	}
	return nil
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func newLogger(cfg *Config, stderr io.Writer) *slog.Logger {
	level, _ := parseLogLevel(cfg.LogLevel)
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// fail prints err and returns code.
func fail(stderr io.Writer, code int, err error) int {
	_, _ = fmt.Fprintln(stderr, err)
	return code
}

// runDefault trains a fresh chain on FILE, one sequence per line, and prints
// one generation. No config file is read or written unless -config is given.
func runDefault(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain", stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	order := fs.Int("order", DefaultConfig().Order, "number of preceding tokens a prediction depends on")
	configPath := fs.String("config", "", "optional JSON config file")
	var g genFlags
	g.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "Did you provide a file path?")
		return exitUsage
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfig(*configPath); err != nil {
			return fail(stderr, exitIO, err)
		}
	}
	g.applyConfig(fs, cfg)
	if !setFlags(fs)["order"] {
		*order = cfg.Order
	}
	logger := newLogger(cfg, stderr)

	chain, err := markov.New[string](*order, g.chainOptions(logger)...)
	if err != nil {
		return fail(stderr, exitUsage, err)
	}
	tokenizer := text.NewTokenizer()
	if _, err = trainFiles(chain, tokenizer, fs.Args()[:1]); err != nil {
		return fail(stderr, exitIO, err)
	}
	if err = g.generate(chain, tokenizer, stdout); err != nil {
		return fail(stderr, exitIO, err)
	}
	return exitOK
}

// trainFiles trains chain on every line of every file and returns the number of lines.
func trainFiles(chain *markov.Chain[string], tokenizer *text.Tokenizer, paths []string) (int, error) {
	var total int
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return total, err
		}
		n, err := tokenizer.Train(chain, f)
		_ = f.Close()
		total += n
		if err != nil {
			return total, fmt.Errorf("%s: %w", path, err)
		}
	}
	return total, nil
}

// dbCommand holds what every database-backed command needs.
type dbCommand struct {
	cfg    *Config
	logger *slog.Logger
	db     *sql.DB
	store  *markovdb.Store
}

// openDB loads the config at path and opens its database.
func openDB(path string, stderr io.Writer) (*dbCommand, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, stderr)
	db, store, err := initDB(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	return &dbCommand{cfg: cfg, logger: logger, db: db, store: store}, nil
}

func (c *dbCommand) Close() {
	c.store.Close()
	_ = c.db.Close()
}

// model looks up a stored model, mapping an unknown name to a usage error.
func (c *dbCommand) model(ctx context.Context, name string, stderr io.Writer) (markovdb.ModelInfo, int) {
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "a model name is required (-model)")
		return markovdb.ModelInfo{}, exitUsage
	}
	model, err := c.store.GetModelInfo(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		_, _ = fmt.Fprintf(stderr, "model %q not found\n", name)
		return model, exitUsage
	}
	if err != nil {
		return model, fail(stderr, exitIO, err)
	}
	return model, exitOK
}

func runTrain(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain train", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	name := fs.String("model", "", "model to train")
	order := fs.Int("order", 0, "order of a newly created model (default from config)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *name == "" || fs.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "usage: markovchain train -model NAME FILE...")
		return exitUsage
	}

	c, err := openDB(*configPath, stderr)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	defer c.Close()
	ctx := context.Background()

	if *order == 0 {
		*order = c.cfg.Order
	}
	chain, err := markov.New[string](*order, markov.WithLogger(c.logger))
	if err != nil {
		return fail(stderr, exitUsage, err)
	}
	lines, err := trainFiles(chain, text.NewTokenizer(), fs.Args())
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	model, err := c.store.SaveNamed(ctx, *name, chain)
	if err != nil {
		if errors.Is(err, markovdb.ErrOrderMismatch) || errors.Is(err, markovdb.ErrReservedToken) {
			return fail(stderr, exitUsage, err)
		}
		return fail(stderr, exitIO, err)
	}
	_, _ = fmt.Fprintf(stdout, "trained %d lines (%d observations) into model %q\n", lines, chain.Observations(), model.Name)
	return exitOK
}

func runGenerate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain generate", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	name := fs.String("model", "", "model to generate from")
	var g genFlags
	g.register(fs, false)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, err := openDB(*configPath, stderr)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	defer c.Close()
	g.applyConfig(fs, c.cfg)
	ctx := context.Background()

	model, code := c.model(ctx, *name, stderr)
	if code != exitOK {
		return code
	}
	chain, err := c.store.Load(ctx, model, g.chainOptions(c.logger)...)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	if err = g.generate(chain, text.NewTokenizer(), stdout); err != nil {
		return fail(stderr, exitIO, err)
	}
	return exitOK
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain export", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	name := fs.String("model", "", "model to export")
	out := fs.String("out", "", "output file, written atomically (default stdout)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, err := openDB(*configPath, stderr)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	defer c.Close()
	ctx := context.Background()

	model, code := c.model(ctx, *name, stderr)
	if code != exitOK {
		return code
	}
	var buf bytes.Buffer
	if err = c.store.Export(ctx, model, &buf); err != nil {
		return fail(stderr, exitIO, err)
	}
	if *out == "" {
		_, err = buf.WriteTo(stdout)
	} else {
		err = atomic.WriteFile(*out, &buf)
	}
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	return exitOK
}

func runImport(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain import", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "usage: markovchain import FILE")
		return exitUsage
	}

	var r io.Reader = os.Stdin
	if path := fs.Arg(0); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fail(stderr, exitIO, err)
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		r = f
	}

	c, err := openDB(*configPath, stderr)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	defer c.Close()

	model, err := c.store.Import(context.Background(), r)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	_, _ = fmt.Fprintf(stdout, "imported model %q (order %d)\n", model.Name, model.Order)
	return exitOK
}

func runStats(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain stats", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, err := openDB(*configPath, stderr)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	defer c.Close()

	stats, err := c.store.GetStats(context.Background())
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	if err = writeStats(stdout, summarize(stats)); err != nil {
		return fail(stderr, exitIO, err)
	}
	return exitOK
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("markovchain keygen", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	scopes := fs.String("scopes", scopeMarkovRead, "space separated scopes of the new key")
	desc := fs.String("desc", "", "description of the new key")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, err := openDB(*configPath, stderr)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	defer c.Close()

	key, err := NewAuthAPI(c.db, c.logger).CreateKey(context.Background(), strings.Fields(*scopes), *desc)
	if err != nil {
		return fail(stderr, exitIO, err)
	}
	_, _ = fmt.Fprintf(stdout, "key %d (%s): %s\n", key.ID, strings.Join(key.Scopes, " "), key.RawKey)
	return exitOK
}

func runServe(args []string, _, stderr io.Writer) int {
	fs := newFlagSet("markovchain serve", stderr)
	configPath := fs.String("config", defaultConfigPath, "JSON config file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if err := serve(*configPath); err != nil {
		return fail(stderr, exitIO, err)
	}
	return exitOK
}
