package models

import "time"

// SyncResult records the outcome of one cache object in a batch.
type SyncResult struct {
	Path        string     `json:"path"`
	Key         string     `json:"key,omitempty"`
	Status      SyncStatus `json:"status"`
	Transferred []string   `json:"transferred,omitempty"`
	Bytes       int64      `json:"bytes,omitempty"`
	Err         error      `json:"-"`
	Error       string     `json:"error,omitempty"`
}

// Failed reports whether the object could not be processed.
func (r *SyncResult) Failed() bool {
	return r.Err != nil
}

// BatchSummary aggregates the results of a push, pull or status run.
type BatchSummary struct {
	RunID       string        `json:"run_id"`
	Op          string        `json:"op"`
	Total       int           `json:"total"`
	Transferred int           `json:"transferred"`
	Failed      int           `json:"failed"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	Results     []SyncResult  `json:"results"`
}

// Add folds one result into the summary.
func (s *BatchSummary) Add(r SyncResult) {
	if r.Err != nil && r.Error == "" {
		r.Error = r.Err.Error()
	}
	s.Total++
	s.Transferred += len(r.Transferred)
	s.Bytes += r.Bytes
	if r.Failed() {
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// HasFailures reports whether any object in the batch failed.
func (s *BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// CountStatus returns how many results carry the given status.
func (s *BatchSummary) CountStatus(status SyncStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Err == nil && r.Status == status {
			n++
		}
	}
	return n
}
