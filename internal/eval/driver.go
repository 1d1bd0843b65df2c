package eval

import (
	"context"
	"iter"

	"github.com/vnmchuo/crypto-bench/internal/dataset"
	"github.com/vnmchuo/crypto-bench/internal/provider"
	"github.com/vnmchuo/crypto-bench/internal/retry"
)

// Asker answers one question with retries. *router.Router implements it.
type Asker interface {
	Ask(ctx context.Context, client provider.Client, req *provider.Request) retry.Result
}

// Driver walks a dataset in order, one question at a time.
type Driver struct {
	asker   Asker
	adapter dataset.Adapter
}

func NewDriver(asker Asker, adapter dataset.Adapter) *Driver {
	return &Driver{asker: asker, adapter: adapter}
}

// Run yields every item with its final result, in order. template supplies the model
// and generation parameters; the prompt comes from the adapter.
//
// A failed item is yielded like any other. Cancelling ctx ends the sequence before
// the next item, and an item interrupted while waiting is not yielded.
func (d *Driver) Run(ctx context.Context, items []dataset.Item, client provider.Client, template provider.Request) iter.Seq2[dataset.Item, retry.Result] {
	return func(yield func(dataset.Item, retry.Result) bool) {
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			req := template
			req.Prompt = d.adapter.BuildPrompt(item)

			res := d.asker.Ask(ctx, client, &req)
			if res.Outcome.Reason == provider.ReasonCancelled && ctx.Err() != nil {
				return
			}
			if !yield(item, res) {
				return
			}
		}
	}
}
