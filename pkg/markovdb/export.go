package markovdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// ExportedModel is the serializable representation of a stored model, used
// for JSON-based import and export.
type ExportedModel struct {
	Name       string          `json:"name"`
	Order      int             `json:"order"`
	Vocabulary map[string]int  `json:"vocabulary"` // token_text -> token_id
	Prefixes   map[string]int  `json:"prefixes"`   // prefix_text -> prefix_id
	Chains     []ExportedChain `json:"chains"`
}

// ExportedChain is a single prefix -> next token link of an ExportedModel.
type ExportedChain struct {
	PrefixID    int `json:"prefix_id"`
	NextTokenID int `json:"next_token_id"`
	Frequency   int `json:"frequency"`
}

// Export serializes a model as indented JSON into w.
func (s *Store) Export(ctx context.Context, model ModelInfo, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, "SELECT prefix_id, next_token_id, frequency FROM markov_chains WHERE model_id = ? ORDER BY rowid", model.Id)
	if err != nil {
		return fmt.Errorf("could not query chains for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	exported := ExportedModel{
		Name:       model.Name,
		Order:      model.Order,
		Vocabulary: make(map[string]int),
		Prefixes:   make(map[string]int),
		Chains:     []ExportedChain{},
	}
	prefixIDs := make(map[int]struct{})
	tokenIDs := map[int]struct{}{SOCTokenID: {}, EOCTokenID: {}}

	for rows.Next() {
		var chain ExportedChain
		if err = rows.Scan(&chain.PrefixID, &chain.NextTokenID, &chain.Frequency); err != nil {
			return err
		}
		exported.Chains = append(exported.Chains, chain)
		prefixIDs[chain.PrefixID] = struct{}{}
		tokenIDs[chain.NextTokenID] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()

	err = s.selectByIDs(ctx, "SELECT prefix_id, prefix_text FROM markov_prefixes WHERE prefix_id IN (%s)", prefixIDs,
		func(id int, text string) error {
			exported.Prefixes[text] = id
			for _, idStr := range strings.Split(text, " ") {
				tokenID, err := strconv.Atoi(idStr)
				if err != nil {
					return fmt.Errorf("malformed prefix '%s': %w", text, err)
				}
				tokenIDs[tokenID] = struct{}{}
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("could not load prefixes for export: %w", err)
	}

	err = s.selectByIDs(ctx, "SELECT token_id, token_text FROM markov_vocabulary WHERE token_id IN (%s)", tokenIDs,
		func(id int, text string) error {
			exported.Vocabulary[text] = id
			return nil
		})
	if err != nil {
		return fmt.Errorf("could not load vocabulary for export: %w", err)
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("vocab_items_exported", len(exported.Vocabulary)),
		slog.Int("prefixes_exported", len(exported.Prefixes)),
		slog.Int("chains_exported", len(exported.Chains)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// selectByIDs runs an (id, text) query with an IN clause over ids, in batches
// that stay below SQLite's variable limit.
func (s *Store) selectByIDs(ctx context.Context, query string, ids map[int]struct{}, fn func(int, string) error) error {
	const batchSize = 500

	all := make([]any, 0, len(ids))
	for id := range ids {
		all = append(all, id)
	}
	for start := 0; start < len(all); start += batchSize {
		batch := all[start:min(start+batchSize, len(all))]
		q := fmt.Sprintf(query, "?"+strings.Repeat(",?", len(batch)-1))
		rows, err := s.db.QueryContext(ctx, q, batch...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int
			var text string
			if err = rows.Scan(&id, &text); err != nil {
				_ = rows.Close()
				return err
			}
			if err = fn(id, text); err != nil {
				_ = rows.Close()
				return err
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Import reads a JSON model from r and merges it into the database. If the
// model name already exists its frequencies are added to; otherwise the model
// is created. Vocabulary and prefix IDs are remapped, and the whole operation
// is one transaction.
func (s *Store) Import(ctx context.Context, r io.Reader) (ModelInfo, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return ModelInfo{}, fmt.Errorf("failed to decode json model: %w", err)
	}
	if imported.Name == "" || imported.Order < 1 {
		return ModelInfo{}, fmt.Errorf("invalid model: a name and a positive order are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	model, err := getOrInsertModel(ctx, tx, imported.Name, imported.Order)
	if err != nil {
		return ModelInfo{}, err
	}

	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	stmtGetOrInsertPrefix := tx.StmtContext(ctx, s.stmtGetOrInsertPrefix)

	vocabIDMap := map[int]int{ // old_id -> new_id
		SOCTokenID: SOCTokenID,
		EOCTokenID: EOCTokenID,
	}
	for text, oldID := range imported.Vocabulary {
		if text == SOCTokenText || text == EOCTokenText {
			continue
		}
		if oldID == SOCTokenID || oldID == EOCTokenID {
			return ModelInfo{}, fmt.Errorf("consistency error: vocab '%s' uses reserved token id %d", text, oldID)
		}
		var newID int
		if err := stmtInsertVocab.QueryRowContext(ctx, text).Scan(&newID); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to get/insert vocab '%s': %w", text, err)
		}
		vocabIDMap[oldID] = newID
	}

	// Prefixes are rebuilt from the new token IDs.
	prefixIDMap := make(map[int]int) // old_id -> new_id
	newPrefixParts := make([]string, 0, imported.Order)
	for oldPrefixText, oldPrefixID := range imported.Prefixes {
		oldTokenIDs := strings.Split(oldPrefixText, " ")
		if len(oldTokenIDs) != imported.Order {
			return ModelInfo{}, fmt.Errorf("consistency error: prefix '%s' does not have %d tokens", oldPrefixText, imported.Order)
		}
		newPrefixParts = newPrefixParts[:0]
		for _, oldTokenIDStr := range oldTokenIDs {
			oldTokenID, err := strconv.Atoi(oldTokenIDStr)
			if err != nil {
				return ModelInfo{}, fmt.Errorf("consistency error: malformed prefix '%s': %w", oldPrefixText, err)
			}
			newTokenID, ok := vocabIDMap[oldTokenID]
			if !ok {
				return ModelInfo{}, fmt.Errorf("consistency error: old token id %d in prefix not found in vocab map", oldTokenID)
			}
			newPrefixParts = append(newPrefixParts, strconv.Itoa(newTokenID))
		}
		newPrefixText := strings.Join(newPrefixParts, " ")

		var newPrefixID int
		if err := stmtGetOrInsertPrefix.QueryRowContext(ctx, newPrefixText).Scan(&newPrefixID); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to get/insert rebuilt prefix '%s': %w", newPrefixText, err)
		}
		prefixIDMap[oldPrefixID] = newPrefixID
	}

	stmtMergeChain, err := tx.PrepareContext(ctx, `
		INSERT INTO markov_chains (model_id, prefix_id, next_token_id, frequency) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, prefix_id, next_token_id) DO UPDATE SET frequency = frequency + excluded.frequency;
	`)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to prepare chain insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtMergeChain)

	for _, chain := range imported.Chains {
		newPrefixID, ok := prefixIDMap[chain.PrefixID]
		if !ok {
			return ModelInfo{}, fmt.Errorf("import consistency error: old prefix id %d not found in prefix map", chain.PrefixID)
		}
		newNextTokenID, ok := vocabIDMap[chain.NextTokenID]
		if !ok {
			return ModelInfo{}, fmt.Errorf("import consistency error: old token id %d not found in vocab map", chain.NextTokenID)
		}
		if newNextTokenID == SOCTokenID {
			return ModelInfo{}, fmt.Errorf("import consistency error: link (%d -> %d) continues with the start token", chain.PrefixID, chain.NextTokenID)
		}
		if chain.Frequency <= 0 {
			return ModelInfo{}, fmt.Errorf("import consistency error: link (%d -> %d) has frequency %d", chain.PrefixID, chain.NextTokenID, chain.Frequency)
		}
		if _, err = stmtMergeChain.ExecContext(ctx, model.Id, newPrefixID, newNextTokenID, chain.Frequency); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert chain link (%d -> %d): %w", newPrefixID, newNextTokenID, err)
		}
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", model.Name),
		slog.Int("target_model_id", model.Id),
		slog.Int("vocab_items_merged", len(imported.Vocabulary)),
		slog.Int("prefixes_merged", len(imported.Prefixes)),
		slog.Int("chains_merged", len(imported.Chains)),
	)

	return model, tx.Commit()
}
