package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/CTAG07/markovchain/pkg/markov"
	"github.com/CTAG07/markovchain/pkg/markovdb"
	"github.com/CTAG07/markovchain/pkg/text"
)

// MarkovAPI holds the dependencies for the Markov model API handlers.
type MarkovAPI struct {
	store     *markovdb.Store
	cm        *ConfigManager
	tokenizer *text.Tokenizer
	logger    *slog.Logger
}

// GenerateResponse is returned by the generate endpoint. Context is only set
// for generations that started from a random context.
type GenerateResponse struct {
	Model   string   `json:"model"`
	Context []string `json:"context,omitempty"`
	Tokens  []string `json:"tokens"`
	Text    string   `json:"text"`
}

// NextToken is one stored continuation of a context. End marks the end of a
// sequence, in which case Token is empty.
type NextToken struct {
	Token     string `json:"token,omitempty"`
	End       bool   `json:"end,omitempty"`
	Frequency int    `json:"frequency"`
}

// NextResponse lists what a model has seen follow a context.
type NextResponse struct {
	Model   string      `json:"model"`
	Context []string    `json:"context"`
	Total   int         `json:"total"`
	Next    []NextToken `json:"next"`
}

// TrainResponse reports what a training request added to a model.
type TrainResponse struct {
	Model        markovdb.ModelInfo `json:"model"`
	Lines        int                `json:"lines"`
	Observations int                `json:"observations"`
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(store *markovdb.Store, cm *ConfigManager, tokenizer *text.Tokenizer, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		store:     store,
		cm:        cm,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/models", m.handleListModels)
	mux.HandleFunc("GET /api/models/{name}/generate", m.handleGenerate)
	mux.HandleFunc("GET /api/models/{name}/next", m.handleNext)
	mux.HandleFunc("POST /api/models/{name}/train", m.handleTrain)
	mux.HandleFunc("GET /api/models/{name}/export", m.handleExport)
	mux.HandleFunc("DELETE /api/models/{name}", m.handleDelete)
	mux.HandleFunc("POST /api/import", m.handleImport)
}

func (m *MarkovAPI) handleListModels(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovRead) {
		return
	}
	models, err := m.store.GetModelInfos(r.Context())
	if err != nil {
		m.logger.Error("Failed to get model infos", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
		return
	}
	// Convert map to slice for consistent JSON output
	modelList := make([]markovdb.ModelInfo, 0, len(models))
	for _, model := range models {
		modelList = append(modelList, model)
	}
	sort.Slice(modelList, func(i, j int) bool { return modelList[i].Name < modelList[j].Name })
	respondWithJSON(w, http.StatusOK, modelList)
}

// modelFromPath looks up the model named in the URL, writing the error
// response itself when that fails.
func (m *MarkovAPI) modelFromPath(w http.ResponseWriter, r *http.Request) (markovdb.ModelInfo, bool) {
	name := r.PathValue("name")
	model, err := m.store.GetModelInfo(r.Context(), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return model, false
		}
		m.logger.Error("Failed to get model info by name", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return model, false
	}
	return model, true
}

// handleGenerate loads a model and generates from it. Query parameters
// override the configured defaults: max, random, temperature, top_k, seed.
func (m *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovRead) {
		return
	}
	model, ok := m.modelFromPath(w, r)
	if !ok {
		return
	}

	cfg := m.cm.Get()
	q := r.URL.Query()
	maxLen, err := queryInt(q.Get("max"), cfg.MaxLength)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'max' parameter")
		return
	}
	topK, err := queryInt(q.Get("top_k"), cfg.TopK)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'top_k' parameter")
		return
	}
	temperature := cfg.Temperature
	if s := q.Get("temperature"); s != "" {
		if temperature, err = strconv.ParseFloat(s, 64); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'temperature' parameter")
			return
		}
	}
	random := q.Get("random") == "true" || q.Get("random") == "1"
	seed := cfg.Seed
	if s := q.Get("seed"); s != "" {
		if seed, err = strconv.ParseUint(s, 10, 64); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'seed' parameter")
			return
		}
	}

	chainOpts := []markov.Option{markov.WithLogger(m.logger)}
	if seed != 0 {
		chainOpts = append(chainOpts, markov.WithRand(markov.NewSeededRand(seed)))
	}
	chain, err := m.store.Load(r.Context(), model, chainOpts...)
	if err != nil {
		m.logger.Error("Failed to load model", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}

	genOpts := []markov.GenerateOption{markov.WithTemperature(temperature), markov.WithTopK(topK)}
	resp := GenerateResponse{Model: model.Name}
	if random {
		start, tokens, err := chain.GenerateFromRandomContext(maxLen, genOpts...)
		if errors.Is(err, markov.ErrEmptyChain) {
			respondWithError(w, http.StatusConflict, "Model has no training data")
			return
		}
		resp.Context = start.Tokens()
		resp.Tokens = tokens
	} else {
		resp.Tokens = chain.Generate(maxLen, genOpts...)
	}
	if resp.Tokens == nil {
		resp.Tokens = []string{}
	}
	resp.Text = m.tokenizer.Join(resp.Tokens)
	respondWithJSON(w, http.StatusOK, resp)
}

// handleNext reports the stored continuations of the 'context' query
// parameter. Only the last order tokens are used; a shorter context is
// padded with start slots, so an empty context lists the starting tokens.
func (m *MarkovAPI) handleNext(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovRead) {
		return
	}
	model, ok := m.modelFromPath(w, r)
	if !ok {
		return
	}

	tokens := m.tokenizer.Split(r.URL.Query().Get("context"))
	if len(tokens) > model.Order {
		tokens = tokens[len(tokens)-model.Order:]
	}
	resp := NextResponse{Model: model.Name, Context: tokens, Next: []NextToken{}}

	ids := make([]string, 0, model.Order)
	for range model.Order - len(tokens) {
		ids = append(ids, strconv.Itoa(markovdb.SOCTokenID))
	}
	for _, token := range tokens {
		id, err := m.store.VocabStr(r.Context(), token)
		if errors.Is(err, sql.ErrNoRows) {
			// A word the model never saw has no continuations.
			respondWithJSON(w, http.StatusOK, resp)
			return
		}
		if err != nil {
			m.logger.Error("Failed to look up token", "token", token, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
		ids = append(ids, strconv.Itoa(id))
	}

	next, total, err := m.store.GetNextTokens(r.Context(), model, strings.Join(ids, " "))
	if err != nil {
		m.logger.Error("Failed to get next tokens", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	resp.Total = total
	for _, ct := range next {
		if ct.Id == markovdb.EOCTokenID {
			resp.Next = append(resp.Next, NextToken{End: true, Frequency: ct.Freq})
			continue
		}
		text, err := m.store.VocabInt(r.Context(), ct.Id)
		if err != nil {
			m.logger.Error("Failed to look up token id", "id", ct.Id, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
		resp.Next = append(resp.Next, NextToken{Token: text, Frequency: ct.Freq})
	}
	sort.Slice(resp.Next, func(i, j int) bool {
		if resp.Next[i].Frequency != resp.Next[j].Frequency {
			return resp.Next[i].Frequency > resp.Next[j].Frequency
		}
		return resp.Next[i].Token < resp.Next[j].Token
	})
	respondWithJSON(w, http.StatusOK, resp)
}

// handleTrain trains the model named in the URL on the request body, one
// sequence per line. Unknown models are created with the order given by the
// 'order' query parameter, or the configured order.
func (m *MarkovAPI) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovWrite) {
		return
	}
	name := r.PathValue("name")
	order, err := queryInt(r.URL.Query().Get("order"), m.cm.Get().Order)
	if err != nil || order < 1 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'order' parameter")
		return
	}
	chain, err := markov.New[string](order, markov.WithLogger(m.logger))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lines, err := m.tokenizer.Train(chain, r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read training text: %v", err))
		return
	}
	model, err := m.store.SaveNamed(r.Context(), name, chain)
	if err != nil {
		switch {
		case errors.Is(err, markovdb.ErrOrderMismatch):
			respondWithError(w, http.StatusConflict, err.Error())
		case errors.Is(err, markovdb.ErrReservedToken):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			m.logger.Error("Failed to train model", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
		}
		return
	}
	respondWithJSON(w, http.StatusAccepted, TrainResponse{Model: model, Lines: lines, Observations: chain.Observations()})
}

func (m *MarkovAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovRead) {
		return
	}
	model, ok := m.modelFromPath(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", model.Name))
	if err := m.store.Export(r.Context(), model, w); err != nil {
		m.logger.Error("Failed to export model", "name", model.Name, "error", err)
	}
}

func (m *MarkovAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovWrite) {
		return
	}
	model, ok := m.modelFromPath(w, r)
	if !ok {
		return
	}
	if err := m.store.RemoveModel(r.Context(), model); err != nil {
		m.logger.Error("Failed to remove model", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImport imports a model from an uploaded JSON export.
func (m *MarkovAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovWrite) {
		return
	}
	model, err := m.store.Import(r.Context(), r.Body)
	if err != nil {
		m.logger.Error("Failed to import model", "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusAccepted, model)
}

// queryInt parses an optional integer query parameter.
func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
