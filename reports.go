package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var errInvalidRunID = errors.New("invalid run id")

// RunSummary is the listing view of a stored suite result.
type RunSummary struct {
	RunID     string       `json:"run_id"`
	Timestamp string       `json:"timestamp"`
	Backend   string       `json:"backend"`
	Target    string       `json:"target"`
	Summary   SuiteSummary `json:"summary"`
}

// ReportStore keeps suite results as one JSON file per run, so runs from
// every instance pointed at the same directory show up together.
type ReportStore struct {
	dir string
}

func NewReportStore(dir string) (*ReportStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &ReportStore{dir: dir}, nil
}

func (s *ReportStore) path(runID string) (string, error) {
	// prevent directory traversal
	if runID == "" || strings.Contains(runID, "/") || strings.Contains(runID, "..") {
		return "", errInvalidRunID
	}
	return filepath.Join(s.dir, runID+".json"), nil
}

func (s *ReportStore) Create(result *SuiteResult) error {
	path, err := s.path(result.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write run file: %w", err)
	}
	return nil
}

func (s *ReportStore) Get(runID string) (*SuiteResult, error) {
	path, err := s.path(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result SuiteResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &result, nil
}

func (s *ReportStore) Delete(runID string) error {
	path, err := s.path(runID)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List returns every stored run, newest first. Unreadable files are skipped.
func (s *ReportStore) List() ([]RunSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	runs := []RunSummary{}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		result, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		runs = append(runs, RunSummary{
			RunID:     result.RunID,
			Timestamp: result.Timestamp,
			Backend:   result.Backend,
			Target:    result.Target,
			Summary:   result.Summary,
		})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp > runs[j].Timestamp })
	return runs, nil
}
