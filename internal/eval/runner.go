package eval

import (
	"context"
	"log"
	"time"

	"github.com/vnmchuo/crypto-bench/internal/dataset"
	"github.com/vnmchuo/crypto-bench/internal/provider"
	"github.com/vnmchuo/crypto-bench/internal/retry"
	"github.com/vnmchuo/crypto-bench/internal/results"
)

// Runner scores the driver's results and hands them to the sinks.
type Runner struct {
	Driver  *Driver
	Adapter dataset.Adapter
	Sink    results.Sink
	Summary *results.Summary
	RunID   string
	Now     func() time.Time
}

// Run consumes the whole sequence. Sink failures are logged and do not stop the run;
// the returned error is only ever ctx's.
func (r *Runner) Run(ctx context.Context, items []dataset.Item, client provider.Client, template provider.Request) (results.Totals, error) {
	if r.Summary == nil {
		r.Summary = results.NewSummary()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}

	for item, res := range r.Driver.Run(ctx, items, client, template) {
		rec := r.record(item, res, client, template.Model, now())
		r.Summary.Add(rec)

		if rec.Failed() {
			log.Printf("[eval] %s: no answer after %d attempt(s): %s", item.ID, res.Attempts, res.Outcome)
		}
		if r.Sink != nil {
			if err := r.Sink.Write(ctx, rec); err != nil {
				log.Printf("[eval] %s: failed to store result: %v", item.ID, err)
			}
		}
	}
	return r.Summary.Totals(), ctx.Err()
}

func (r *Runner) record(item dataset.Item, res retry.Result, client provider.Client, model string, at time.Time) *results.Record {
	rec := &results.Record{
		RunID:      r.RunID,
		ID:         item.ID,
		Dataset:    item.Dataset,
		Model:      model,
		Provider:   client.Name(),
		Prompt:     r.Adapter.BuildPrompt(item),
		Output:     res.Text,
		Status:     res.Outcome.Status.String(),
		Reason:     string(res.Outcome.Reason),
		Attempts:   res.Attempts,
		LatencyMs:  res.Elapsed.Milliseconds(),
		CreatedAt:  at,
		Algorithm:  item.Algorithm,
		Ciphertext: item.Ciphertext,
		PromptText: item.PromptText,
		Question:   item.Question,
	}
	if res.Succeeded && r.Adapter.Score(item, res.Text) {
		rec.Correct = 1
	}
	return rec
}
