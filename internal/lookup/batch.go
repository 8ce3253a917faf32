package lookup

import (
	"context"
	"errors"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
	"github.com/sells-group/geolookup/pkg/geocode"
)

// Request is one batch input row.
type Request struct {
	Company string `json:"company"`
	Site    string `json:"site,omitempty"`
}

// BatchResult is the outcome of one Request. Failed items carry the error
// and whether retrying later could help.
type BatchResult struct {
	Index   int                  `json:"index"`
	Request Request              `json:"request"`
	Record  *model.AddressRecord `json:"record,omitempty"`
	Err     error                `json:"-"`
	Class   resilience.Class     `json:"class,omitempty"`
}

// BatchResolve resolves reqs with bounded concurrency and yields results in
// input order. Items fail independently. Stopping the iteration cancels the
// resolutions still in flight.
func (s *Service) BatchResolve(ctx context.Context, reqs iter.Seq[Request]) iter.Seq[BatchResult] {
	return func(yield func(BatchResult) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		limit := s.cfg.BatchConcurrency
		pending := make(chan chan BatchResult, limit)

		go func() {
			defer close(pending)
			var g errgroup.Group
			g.SetLimit(limit)

			i := 0
			for req := range reqs {
				if ctx.Err() != nil {
					break
				}
				out := make(chan BatchResult, 1)
				select {
				case pending <- out:
				case <-ctx.Done():
					_ = g.Wait()
					return
				}
				idx := i
				i++
				g.Go(func() error {
					out <- s.resolveOne(ctx, idx, req)
					return nil
				})
			}
			_ = g.Wait()
		}()

		stopped := false
		for out := range pending {
			if stopped {
				continue
			}
			if !yield(<-out) {
				stopped = true
				cancel()
			}
		}
	}
}

func (s *Service) resolveOne(ctx context.Context, idx int, req Request) BatchResult {
	rec, err := s.Resolve(ctx, req.Company, req.Site)
	return BatchResult{Index: idx, Request: req, Record: rec, Err: err, Class: classify(err)}
}

// classify extends resilience.Classify with failures that clear with time:
// a spent quota, an open circuit and a store outage.
func classify(err error) resilience.Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, geocode.ErrQuotaExceeded),
		errors.Is(err, resilience.ErrOpen),
		errors.Is(err, geocode.ErrRetriesExhausted):
		return resilience.ClassTransient
	default:
		return resilience.Classify(err)
	}
}
