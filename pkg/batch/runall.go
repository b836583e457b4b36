package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one independent batch for RunAll.
type Job struct {
	Name   string
	Script string
	Params map[string]any
}

// JobResult pairs a job with its outcome.
type JobResult struct {
	Name   string
	Result *Result
	Err    error
}

// RunAll runs jobs concurrently, at most limit at a time (limit <= 0 means
// no bound). A failing job does not stop the others: each batch commits or
// rolls back on its own, and isolation between them is the engine's.
// Results are returned in job order.
func RunAll(ctx context.Context, c *Coordinator, jobs []Job, limit int) []JobResult {
	results := make([]JobResult, len(jobs))
	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := c.Run(ctx, job.Script, job.Params)
			results[i] = JobResult{Name: job.Name, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
