package eventhandlers

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/events"
)

// DefaultBatchWorkers bounds HandleBatch concurrency when no limit is given.
const DefaultBatchWorkers = 8

// HandleBatch applies envelopes concurrently across distinct orders while
// keeping delivery order for envelopes that target the same order.
// Outcomes are returned in input order. The first storage failure cancels the
// remaining work and is returned; envelopes not yet applied keep an empty
// outcome so the caller can redeliver them.
func (i *Ingestor) HandleBatch(ctx context.Context, envs []events.Envelope, workers int) ([]domain.Outcome, error) {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	outcomes := make([]domain.Outcome, len(envs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, group := range groupByTarget(envs) {
		g.Go(func() error {
			for _, idx := range group {
				outcome, err := i.Handle(ctx, envs[idx])
				if err != nil {
					return err
				}
				outcomes[idx] = outcome
			}
			return nil
		})
	}
	err := g.Wait()
	return outcomes, err
}

// groupByTarget partitions envelope indexes by target order, preserving
// order within each partition. Envelopes whose target cannot be determined
// without decoding get their own partition.
func groupByTarget(envs []events.Envelope) [][]int {
	var groups [][]int
	index := make(map[string]int)
	for idx, env := range envs {
		key := batchKey(env)
		if key == "" {
			groups = append(groups, []int{idx})
			continue
		}
		if g, ok := index[key]; ok {
			groups[g] = append(groups[g], idx)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []int{idx})
	}
	return groups
}

func batchKey(env events.Envelope) string {
	var ref struct {
		OrderID string `json:"orderId"`
	}
	if len(env.Payload) > 0 && json.Unmarshal(env.Payload, &ref) == nil {
		if id := targetOrderID(env, ref.OrderID); id != "" {
			return id
		}
	}
	return targetOrderID(env, "")
}
