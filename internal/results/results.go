package results

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

// Record is one scored row of a run.
type Record struct {
	RunID     string    `json:"run_id"`
	ID        string    `json:"id"`
	Dataset   string    `json:"dataset"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Prompt    string    `json:"prompt"`
	Output    string    `json:"output"`
	Correct   int       `json:"correct"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  int       `json:"attempts"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`

	Algorithm  string `json:"algorithm,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	PromptText string `json:"prompt_text,omitempty"`
	Question   string `json:"question,omitempty"`
}

// Failed reports whether the model never produced an answer for the record.
func (r *Record) Failed() bool {
	return r.Status != "success"
}

type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// MultiSink writes every record to all sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec *Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Totals is a point-in-time view of a run.
type Totals struct {
	Total          int            `json:"total"`
	Correct        int            `json:"correct"`
	Failed         int            `json:"failed"`
	Accuracy       float64        `json:"accuracy"`
	FailureReasons map[string]int `json:"failure_reasons"`
}

// Summary accumulates Totals while a run is in progress. It is safe for concurrent readers.
type Summary struct {
	mu      sync.Mutex
	total   int
	correct int
	failed  int
	reasons map[string]int
}

func NewSummary() *Summary {
	return &Summary{reasons: make(map[string]int)}
}

func (s *Summary) Add(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.correct += rec.Correct
	if rec.Failed() {
		s.failed++
		s.reasons[rec.Reason]++
	}
}

func (s *Summary) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Totals{
		Total:          s.total,
		Correct:        s.correct,
		Failed:         s.failed,
		FailureReasons: maps.Clone(s.reasons),
	}
	if s.total > 0 {
		t.Accuracy = float64(s.correct) / float64(s.total)
	}
	return t
}
