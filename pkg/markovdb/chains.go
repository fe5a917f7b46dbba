package markovdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/CTAG07/markovchain/pkg/markov"
)

// ChainToken is a stored outcome of a prefix: the next token's ID and how
// often it followed the prefix.
type ChainToken struct {
	Id   int
	Freq int
}

// Save merges the counts of chain into model within a single transaction.
// Frequencies already stored for the model are added to, never replaced.
func (s *Store) Save(ctx context.Context, model ModelInfo, chain *markov.Chain[string]) error {
	if chain.Order() != model.Order {
		return fmt.Errorf("%w: chain has order %d, model %q has order %d", ErrOrderMismatch, chain.Order(), model.Name, model.Order)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = s.merge(ctx, tx, model, chain); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveNamed merges chain into the model called name, creating the model with
// the chain's order if it does not exist yet. The model is only created if the
// merge succeeds.
func (s *Store) SaveNamed(ctx context.Context, name string, chain *markov.Chain[string]) (ModelInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	model, err := getOrInsertModel(ctx, tx, name, chain.Order())
	if err != nil {
		return ModelInfo{}, err
	}
	if err = s.merge(ctx, tx, model, chain); err != nil {
		return ModelInfo{}, err
	}
	return model, tx.Commit()
}

func (s *Store) merge(ctx context.Context, tx *sql.Tx, model ModelInfo, chain *markov.Chain[string]) error {
	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	stmtGetOrInsertPrefix := tx.StmtContext(ctx, s.stmtGetOrInsertPrefix)
	stmtMergeChain, err := tx.PrepareContext(ctx, `
		INSERT INTO markov_chains (model_id, prefix_id, next_token_id, frequency) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, prefix_id, next_token_id) DO UPDATE SET frequency = frequency + excluded.frequency;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chain merge statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtMergeChain)

	vocabCache := make(map[string]int)
	tokenID := func(text string) (int, error) {
		if text == SOCTokenText || text == EOCTokenText {
			return 0, fmt.Errorf("%w: %q", ErrReservedToken, text)
		}
		if id, ok := vocabCache[text]; ok {
			return id, nil
		}
		var id int
		if err := stmtInsertVocab.QueryRowContext(ctx, text).Scan(&id); err != nil {
			return 0, fmt.Errorf("sql insert vocabulary error for token '%s': %w", text, err)
		}
		vocabCache[text] = id
		return id, nil
	}

	var keyBuf []byte
	var links int
	for key, counter := range chain.Contexts() {
		keyBuf = keyBuf[:0]
		for j, slot := range key {
			if j > 0 {
				keyBuf = append(keyBuf, ' ')
			}
			id := SOCTokenID
			if text, ok := slot.Token(); ok {
				if id, err = tokenID(text); err != nil {
					return err
				}
			}
			keyBuf = strconv.AppendInt(keyBuf, int64(id), 10)
		}
		prefixKey := string(keyBuf)

		var prefixID int
		if err = stmtGetOrInsertPrefix.QueryRowContext(ctx, prefixKey).Scan(&prefixID); err != nil {
			return fmt.Errorf("failed to get or insert prefix '%s': %w", prefixKey, err)
		}

		for _, o := range counter.Outcomes() {
			next := EOCTokenID
			if text, ok := o.Token(); ok {
				if next, err = tokenID(text); err != nil {
					return err
				}
			}
			if _, err = stmtMergeChain.ExecContext(ctx, model.Id, prefixID, next, counter.Count(o)); err != nil {
				return fmt.Errorf("failed to merge chain link (%d -> %d): %w", prefixID, next, err)
			}
			links++
		}
	}

	s.logger.InfoContext(ctx, "Chain saved",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("contexts", chain.Len()),
		slog.Int("links_merged", links),
	)
	return nil
}

// Load rebuilds the chain stored for model. Options are passed to markov.New.
func (s *Store) Load(ctx context.Context, model ModelInfo, opts ...markov.Option) (*markov.Chain[string], error) {
	chain, err := markov.New[string](model.Order, opts...)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", model.Name, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.prefix_text, c.next_token_id, c.frequency
		FROM markov_chains c JOIN markov_prefixes p ON p.prefix_id = c.prefix_id
		WHERE c.model_id = ?
		ORDER BY c.rowid;
	`, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query chains for model %d: %w", model.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	type link struct {
		prefix string
		next   int
		freq   int
	}
	var links []link
	for rows.Next() {
		var l link
		if err = rows.Scan(&l.prefix, &l.next, &l.freq); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	tokenCache := make(map[int]string)
	for _, l := range links {
		key, err := s.parsePrefix(ctx, l.prefix, tokenCache)
		if err != nil {
			return nil, err
		}
		outcome := markov.EndOutcome[string]()
		if l.next != EOCTokenID {
			text, err := s.getTokenTextWithCache(ctx, l.next, tokenCache)
			if err != nil {
				return nil, fmt.Errorf("failed to get text for token %d: %w", l.next, err)
			}
			outcome = markov.TokenOutcome(text)
		}
		if err = chain.Observe(key, outcome, l.freq); err != nil {
			return nil, fmt.Errorf("consistency error in prefix '%s': %w", l.prefix, err)
		}
	}

	s.logger.InfoContext(ctx, "Chain loaded",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("contexts", chain.Len()),
		slog.Int("links", len(links)),
	)
	return chain, nil
}

// parsePrefix turns a stored prefix of token IDs back into a context.
func (s *Store) parsePrefix(ctx context.Context, prefix string, cache map[int]string) (markov.Context[string], error) {
	parts := strings.Split(prefix, " ")
	key := make(markov.Context[string], len(parts))
	for i, part := range parts {
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("malformed prefix '%s': %w", prefix, err)
		}
		if id == SOCTokenID {
			key[i] = markov.StartSlot[string]()
			continue
		}
		text, err := s.getTokenTextWithCache(ctx, id, cache)
		if err != nil {
			return nil, fmt.Errorf("failed to get text for prefix token %d: %w", id, err)
		}
		key[i] = markov.TokenSlot(text)
	}
	return key, nil
}

// getTokenTextWithCache is a helper for loading to minimize DB lookups.
func (s *Store) getTokenTextWithCache(ctx context.Context, id int, cache map[int]string) (string, error) {
	if text, ok := cache[id]; ok {
		return text, nil
	}
	text, err := s.VocabInt(ctx, id)
	if err != nil {
		return "", err
	}
	cache[id] = text
	return text, nil
}

// GetNextTokens retrieves the stored outcomes of a prefix key (space-joined
// token IDs) for a model, with the sum of their frequencies. An unknown prefix
// returns a nil slice and a total of 0.
func (s *Store) GetNextTokens(ctx context.Context, model ModelInfo, prefix string) ([]ChainToken, int, error) {
	var prefixID int
	err := s.stmtGetPrefixID.QueryRowContext(ctx, prefix).Scan(&prefixID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("could not get prefix ID for '%s': %w", prefix, err)
	}

	rows, err := s.stmtGetChain.QueryContext(ctx, model.Id, prefixID)
	if err != nil {
		return nil, 0, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var tokens []ChainToken
	var totalFreq int
	for rows.Next() {
		var token ChainToken
		if err = rows.Scan(&token.Id, &token.Freq); err != nil {
			return nil, 0, err
		}
		tokens = append(tokens, token)
		totalFreq += token.Freq
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}
	return tokens, totalFreq, nil
}

// VocabStr looks up a token's ID. It returns sql.ErrNoRows if the token is unknown.
func (s *Store) VocabStr(ctx context.Context, token string) (int, error) {
	var tokenID int
	if err := s.stmtGetTokenID.QueryRowContext(ctx, token).Scan(&tokenID); err != nil {
		return 0, err
	}
	return tokenID, nil
}

// VocabInt looks up a token ID's text. It returns sql.ErrNoRows if the ID is unknown.
func (s *Store) VocabInt(ctx context.Context, id int) (string, error) {
	var tokenText string
	if err := s.stmtGetTokenText.QueryRowContext(ctx, id).Scan(&tokenText); err != nil {
		return "", err
	}
	return tokenText, nil
}
