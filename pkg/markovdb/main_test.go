package markovdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/CTAG07/markovchain/pkg/markov"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database in a temp dir and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// trainChain builds a chain from lines of whitespace-separated tokens.
func trainChain(t *testing.T, order int, lines ...string) *markov.Chain[string] {
	t.Helper()
	chain, err := markov.New[string](order)
	if err != nil {
		t.Fatalf("markov.New(%d) error = %v", order, err)
	}
	for _, line := range lines {
		chain.Train(strings.Fields(line))
	}
	return chain
}

// setupTestDBWithTraining is a convenience helper that also saves a trained model.
func setupTestDBWithTraining(t *testing.T) (context.Context, *Store, ModelInfo, *markov.Chain[string]) {
	t.Helper()
	_, s := setupTestDB(t)
	ctx := context.Background()

	model, err := s.InsertModel(ctx, ModelInfo{Name: "test_model", Order: 2})
	if err != nil {
		t.Fatalf("setup: InsertModel() failed: %v", err)
	}
	chain := trainChain(t, 2, "one fish two fish", "red fish blue fish")
	if err := s.Save(ctx, model, chain); err != nil {
		t.Fatalf("setup: Save() failed: %v", err)
	}
	return ctx, s, model, chain
}

// assertSameChain fails the test unless both chains hold identical counts.
func assertSameChain(t *testing.T, want, got *markov.Chain[string]) {
	t.Helper()
	if want.Order() != got.Order() {
		t.Fatalf("order = %d, want %d", got.Order(), want.Order())
	}
	if want.Len() != got.Len() {
		t.Errorf("Len() = %d, want %d", got.Len(), want.Len())
	}
	for key, counter := range want.Contexts() {
		other, ok := got.Counter(key)
		if !ok {
			t.Errorf("context %v missing", key)
			continue
		}
		if !reflect.DeepEqual(counter.Distribution(), other.Distribution()) {
			t.Errorf("context %v: Distribution() = %v, want %v", key, other.Distribution(), counter.Distribution())
		}
	}
}
