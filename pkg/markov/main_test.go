package markov

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// newTestChain creates a seeded string chain of the given order and trains it
// on each line of data.
func newTestChain(t *testing.T, order int, lines ...string) *Chain[string] {
	t.Helper()
	c, err := New[string](order, WithRand(NewSeededRand(42)))
	if err != nil {
		t.Fatalf("New(%d) error = %v", order, err)
	}
	for _, line := range lines {
		c.Train(strings.Fields(line))
	}
	return c
}

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a line corpus for benchmarking.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = []string{"this is a fallback corpus for benchmarking. it is not very long but will prevent a crash."}
				return
			}
			benchmarkCorpus = append(benchmarkCorpus, strings.Split(string(content), "\n")...)
		}
	})
	return benchmarkCorpus
}
