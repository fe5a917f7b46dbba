package markovdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ModelInfo holds the metadata for a stored model: its unique ID, name and
// the order of the chain it holds.
type ModelInfo struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// GetModelInfos retrieves metadata for all models currently in the database,
// returning them in a map keyed by model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Order); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model by name. An unknown
// name returns sql.ErrNoRows.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	model := ModelInfo{Name: modelName}
	err := s.stmtGetModelInfo.QueryRowContext(ctx, modelName).Scan(&model.Id, &model.Order)
	if err != nil {
		return ModelInfo{}, err
	}
	return model, nil
}

// InsertModel creates a new, empty model and returns it with its ID filled in.
func (s *Store) InsertModel(ctx context.Context, model ModelInfo) (ModelInfo, error) {
	if model.Order < 1 {
		return ModelInfo{}, fmt.Errorf("model %q: order must be at least 1, got %d", model.Name, model.Order)
	}
	res, err := s.stmtAddModel.ExecContext(ctx, model.Name, model.Order)
	if err != nil {
		return ModelInfo{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ModelInfo{}, err
	}
	model.Id = int(id)
	return model, nil
}

// getOrInsertModel returns the named model inside tx, creating it with the
// given order if it does not exist. An existing model with a different order
// returns ErrOrderMismatch.
func getOrInsertModel(ctx context.Context, tx *sql.Tx, name string, order int) (ModelInfo, error) {
	model := ModelInfo{Name: name, Order: order}
	err := tx.QueryRowContext(ctx, "SELECT model_id, model_order FROM markov_models WHERE model_name = ?", name).Scan(&model.Id, &model.Order)
	switch {
	case err == nil:
		if model.Order != order {
			return ModelInfo{}, fmt.Errorf("%w: model %q has order %d, want %d", ErrOrderMismatch, name, model.Order, order)
		}
		return model, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, "INSERT INTO markov_models (model_name, model_order) VALUES (?, ?)", name, order)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert new model '%s': %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return ModelInfo{}, err
		}
		model.Id = int(id)
		return model, nil
	default:
		return ModelInfo{}, fmt.Errorf("failed to query for model '%s': %w", name, err)
	}
}

// RemoveModel deletes a model and all of its chain data. The operation is
// performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_chains WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove chains for model %d: %w", model.Id, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}
