package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"

	"github.com/CTAG07/markovchain/pkg/markovdb"
	"github.com/dustin/go-humanize"
)

// StatsAPI serves database statistics.
type StatsAPI struct {
	store  *markovdb.Store
	logger *slog.Logger
}

// ModelSummary is the per-model entry of a StatsSummary.
type ModelSummary struct {
	markovdb.ModelInfo
	markovdb.ModelStats
}

// StatsSummary provides a high-level overview of every stored model.
type StatsSummary struct {
	Models     []ModelSummary `json:"models"`
	VocabSize  int            `json:"vocab_size"`
	PrefixSize int            `json:"prefix_size"`
}

func NewStatsAPI(store *markovdb.Store, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{store: store, logger: logger}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats", s.handleSummary)
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeMarkovRead) {
		return
	}
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	respondWithJSON(w, http.StatusOK, summarize(stats))
}

func summarize(stats *markovdb.DBStats) StatsSummary {
	summary := StatsSummary{
		Models:     make([]ModelSummary, 0, len(stats.Models)),
		VocabSize:  stats.VocabSize,
		PrefixSize: stats.PrefixSize,
	}
	for _, m := range stats.Models {
		summary.Models = append(summary.Models, ModelSummary{ModelInfo: m, ModelStats: stats.Stats[m.Id]})
	}
	return summary
}

// writeStats prints a human readable table of the summary, as used by the
// stats command.
func writeStats(w io.Writer, summary StatsSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "MODEL\tORDER\tLINKS\tOBSERVATIONS\tSTARTING TOKENS\n")
	for _, m := range summary.Models {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			m.Name, m.Order,
			humanize.Comma(int64(m.TotalChains)),
			humanize.Comma(int64(m.TotalFrequency)),
			humanize.Comma(int64(m.StartingTokens)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s models, %s distinct tokens, %s distinct contexts\n",
		humanize.Comma(int64(len(summary.Models))),
		humanize.Comma(int64(summary.VocabSize)),
		humanize.Comma(int64(summary.PrefixSize)))
	return err
}
