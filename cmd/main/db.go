package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/CTAG07/markovchain/pkg/markovdb"
)

// initDB opens the SQLite database at dataSource, creates the model and API
// key tables if needed, and prepares a model store on it.
func initDB(dataSource string, logger *slog.Logger) (*sql.DB, *markovdb.Store, error) {
	db, err := sql.Open(sqliteDriver, dataSource)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = markovdb.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to set up markov schema: %w", err)
	}
	if err = setupAuthSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to set up auth schema: %w", err)
	}

	store, err := markovdb.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store.SetLogger(logger)
	return db, store, nil
}
