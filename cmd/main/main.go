package main

import (
	"fmt"
	"io"
	"os"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Exit codes of the binary.
const (
	exitOK    = 0
	exitUsage = 1 // bad flags, missing path, unknown model
	exitIO    = 2 // file, database and network failures
)

const usage = `usage:
  markovchain [flags] FILE                 train on FILE and print one generation
  markovchain train -model NAME FILE...    train FILE into a stored model
  markovchain generate -model NAME         generate from a stored model
  markovchain export -model NAME [-out F]  write a model as JSON
  markovchain import FILE                  merge a JSON model into the database
  markovchain stats                        print database statistics
  markovchain keygen [-scopes S]           create an API key
  markovchain serve                        run the HTTP API

Run a command with -h for its flags.
`

// commands maps subcommand names to their implementations.
var commands = map[string]func(args []string, stdout, stderr io.Writer) int{
	"train":    runTrain,
	"generate": runGenerate,
	"export":   runExport,
	"import":   runImport,
	"stats":    runStats,
	"keygen":   runKeygen,
	"serve":    runServe,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches to a subcommand, falling back to training on a single file
// and printing one generation.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		if cmd, ok := commands[args[0]]; ok {
			return cmd(args[1:], stdout, stderr)
		}
		if args[0] == "help" {
			_, _ = fmt.Fprint(stdout, usage)
			return exitOK
		}
	}
	return runDefault(args, stdout, stderr)
}
