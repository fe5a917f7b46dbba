package markovdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx, s, model, chain := setupTestDBWithTraining(t)

	// 1. Export the saved model to an in-memory buffer
	var buf bytes.Buffer
	if err := s.Export(ctx, model, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var exported ExportedModel
	if err := json.Unmarshal(buf.Bytes(), &exported); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if exported.Name != model.Name || exported.Order != model.Order {
		t.Errorf("exported header = %q/%d, want %q/%d", exported.Name, exported.Order, model.Name, model.Order)
	}

	// 2. Set up a completely new, empty database with a different vocabulary
	//    so that token IDs have to be remapped.
	_, s2 := setupTestDB(t)
	other, _ := s2.InsertModel(ctx, ModelInfo{Name: "other", Order: 1})
	_ = s2.Save(ctx, other, trainChain(t, 1, "zebra yak fish"))

	// 3. Import from the buffer into the new DB
	imported, err := s2.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported.Name != model.Name || imported.Order != model.Order {
		t.Errorf("Import() = %+v", imported)
	}

	// 4. The imported model holds exactly the original counts.
	loaded, err := s2.Load(ctx, imported)
	if err != nil {
		t.Fatalf("Load of imported model failed: %v", err)
	}
	assertSameChain(t, chain, loaded)
}

func TestImportMergesIntoExistingModel(t *testing.T) {
	ctx, s, model, chain := setupTestDBWithTraining(t)

	var buf bytes.Buffer
	if err := s.Export(ctx, model, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if _, err := s.Import(ctx, &buf); err != nil {
		t.Fatalf("Import into the same database failed: %v", err)
	}
	loaded, err := s.Load(ctx, model)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Observations() != 2*chain.Observations() {
		t.Errorf("Observations() = %d, want %d", loaded.Observations(), 2*chain.Observations())
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	ctx, s, _, _ := setupTestDBWithTraining(t)

	testCases := []struct {
		name          string
		input         string
		errorContains string
		errorIs       error
	}{
		{name: "Not JSON", input: "{", errorContains: "failed to decode"},
		{name: "Missing order", input: `{"name":"x"}`, errorContains: "positive order"},
		{
			name:    "Order mismatch with existing model",
			input:   `{"name":"test_model","order":3,"vocabulary":{},"prefixes":{},"chains":[]}`,
			errorIs: ErrOrderMismatch,
		},
		{
			name:          "Prefix of the wrong length",
			input:         `{"name":"y","order":2,"vocabulary":{},"prefixes":{"0":5},"chains":[]}`,
			errorContains: "does not have 2 tokens",
		},
		{
			name:          "Unknown prefix id",
			input:         `{"name":"z","order":1,"vocabulary":{},"prefixes":{},"chains":[{"prefix_id":7,"next_token_id":1,"frequency":1}]}`,
			errorContains: "old prefix id 7",
		},
		{
			name:          "Non-numeric prefix",
			input:         `{"name":"g","order":1,"vocabulary":{"hello":5},"prefixes":{"garbage":7},"chains":[{"prefix_id":7,"next_token_id":5,"frequency":3}]}`,
			errorContains: "malformed prefix 'garbage'",
		},
		{
			name:          "Vocab word on the start token id",
			input:         `{"name":"r","order":1,"vocabulary":{"hello":0},"prefixes":{"0":7},"chains":[{"prefix_id":7,"next_token_id":1,"frequency":1}]}`,
			errorContains: "reserved token id 0",
		},
		{
			name:          "Vocab word on the end token id",
			input:         `{"name":"r","order":1,"vocabulary":{"hello":1},"prefixes":{"0":7},"chains":[{"prefix_id":7,"next_token_id":1,"frequency":1}]}`,
			errorContains: "reserved token id 1",
		},
		{
			name:          "Link continuing with the start token",
			input:         `{"name":"s","order":1,"vocabulary":{},"prefixes":{"0":7},"chains":[{"prefix_id":7,"next_token_id":0,"frequency":2}]}`,
			errorContains: "continues with the start token",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Import(ctx, strings.NewReader(tc.input))
			if err == nil {
				t.Fatal("expected an error but got none")
			}
			if tc.errorIs != nil && !errors.Is(err, tc.errorIs) {
				t.Errorf("expected error %v, got %v", tc.errorIs, err)
			}
			if tc.errorContains != "" && !strings.Contains(err.Error(), tc.errorContains) {
				t.Errorf("expected error to contain %q, but got %q", tc.errorContains, err.Error())
			}
		})
	}

	// Rejected imports roll back, leaving only the trained model.
	infos, err := s.GetModelInfos(ctx)
	if err != nil {
		t.Fatalf("GetModelInfos() error = %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("models after rejected imports = %v, want only test_model", infos)
	}
}
