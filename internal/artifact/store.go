package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"

	"policyscan/internal/adapter/docsearch"
	"policyscan/internal/pipeline"
)

// Store writes per-run JSON snapshots under <dir>/<runID>/. Snapshots are
// append-only artifacts keyed by run, not a queryable store.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) WriteSearchResults(runID string, docs []docsearch.Document) error {
	return s.write(runID, "search_results.json", docs)
}

func (s *Store) WriteCycleOutcomes(runID string, outcomes []pipeline.CycleOutcome) error {
	return s.write(runID, "cycle_outcomes.json", outcomes)
}

func (s *Store) WriteMergedBatches(runID string, batches [][]pipeline.MergedRecord) error {
	return s.write(runID, "merged_batches.json", batches)
}

func (s *Store) WriteGroupedOutput(runID string, out pipeline.GroupedOutput) error {
	return s.write(runID, "grouped_output.json", out)
}

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *Store) write(runID, name string, v any) error {
	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Clean(filepath.Join(runDir, name))
	return os.WriteFile(path, data, 0o600) // #nosec G306 -- run artifacts are operator-readable only
}
