package markovdb

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all models and their individual stats.
type DBStats struct {
	Models     []ModelInfo        // All models, sorted by name
	Stats      map[int]ModelStats // A mapping of model ids to their stats
	VocabSize  int                // The number of unique tokens in all models' vocabularies
	PrefixSize int                // The number of unique prefixes in all models' chains
}

// ModelStats holds aggregated statistics for a single stored model.
type ModelStats struct {
	TotalChains    int `json:"total_chains"`    // The number of unique prefix->next_token links.
	TotalFrequency int `json:"total_frequency"` // The sum of frequencies of all links; the total number of trained transitions.
	StartingTokens int `json:"starting_tokens"` // The number of unique tokens that can start a chain.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DBStats{
		Models: make([]ModelInfo, 0, len(modelInfos)),
		Stats:  make(map[int]ModelStats, len(modelInfos)),
	}
	if err = s.stmtGetVocabLen.QueryRowContext(ctx).Scan(&stats.VocabSize); err != nil {
		return nil, err
	}
	if err = s.stmtGetPrefixLen.QueryRowContext(ctx).Scan(&stats.PrefixSize); err != nil {
		return nil, err
	}

	for _, m := range modelInfos {
		stats.Models = append(stats.Models, m)
		ms, err := s.modelStats(ctx, m)
		if err != nil {
			return nil, err
		}
		stats.Stats[m.Id] = ms
	}
	sort.Slice(stats.Models, func(i, j int) bool {
		return stats.Models[i].Name < stats.Models[j].Name
	})
	return stats, nil
}

func (s *Store) modelStats(ctx context.Context, m ModelInfo) (ModelStats, error) {
	var ms ModelStats
	if err := s.stmtModelChains.QueryRowContext(ctx, m.Id).Scan(&ms.TotalChains); err != nil {
		return ms, err
	}
	if err := s.stmtModelFreq.QueryRowContext(ctx, m.Id).Scan(&ms.TotalFrequency); err != nil {
		return ms, err
	}

	start := strings.TrimSpace(strings.Repeat(strconv.Itoa(SOCTokenID)+" ", m.Order))
	var startID int
	err := s.stmtGetPrefixID.QueryRowContext(ctx, start).Scan(&startID)
	if errors.Is(err, sql.ErrNoRows) {
		return ms, nil
	}
	if err != nil {
		return ms, err
	}
	err = s.stmtModelStarters.QueryRowContext(ctx, m.Id, startID).Scan(&ms.StartingTokens)
	return ms, err
}
