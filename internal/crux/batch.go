package crux

import (
	"context"
	"strings"

	"github.com/tobert/cruxview/internal/report"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds in-flight requests per batch.
const DefaultConcurrency = 4

// CleanOrigins trims every origin and drops the ones left empty.
func CleanOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// FetchBatch queries every non-empty origin with at most concurrency requests
// in flight and returns one response per origin in request order. Per-origin
// failures are recorded in the response, never returned; the only error is the
// context's, in which case the partial batch is discarded.
func FetchBatch(ctx context.Context, f Fetcher, origins []string, concurrency int) ([]report.RawResponse, error) {
	origins = CleanOrigins(origins)
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	out := make([]report.RawResponse, len(origins))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, origin := range origins {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i] = report.RawResponse{Origin: origin, Err: err}
				return nil
			}
			body, err := f.QueryRecord(ctx, origin)
			out[i] = report.RawResponse{Origin: origin, Body: body, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
