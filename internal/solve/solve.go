// Package solve provides the one-shot convenience entry point most
// callers actually want: run a solve, let one round of in-flight feed
// downloads land, solve again, and hand back a Selections document.
//
// Grounded on zeroinstall/helpers.py's get_selections /
// ensure_cached ("recalculate_with_dl(); start_downloading_impls();
// handler.wait_for_downloads()") loop-until-stable pattern, adapted to
// this repo's non-blocking Solver + FetchCoordinator split.
package solve

import (
	"context"
	"fmt"

	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/selections"
	"github.com/ipiton/depsolve/internal/solver"
)

// Waiter is the subset of FetchCoordinator Once needs: a way to block
// until every download kicked off by the most recent Recalculate pass
// has finished.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Once runs sv.Recalculate(ctx, rootURI), and if the pass left the solve
// not-ready, waits once for whatever feed downloads that pass started
// and recalculates again before giving up. It never loops more than
// twice: a single background refresh is what get_selections does, and a
// solve that still isn't ready after fresh feed data has landed needs a
// human (missing implementation, unmet restriction), not more retries.
func Once(ctx context.Context, rootURI string, sv *solver.Solver, fetcher Waiter) (*model.Selections, error) {
	ready := sv.Recalculate(ctx, rootURI)

	if !ready && fetcher != nil {
		if err := fetcher.Wait(ctx); err != nil {
			return nil, fmt.Errorf("solve: waiting for feed downloads: %w", err)
		}
		ready = sv.Recalculate(ctx, rootURI)
	}

	sels := selections.Build(rootURI, sv.Implementation())
	if !ready {
		return sels, fmt.Errorf("solve: %w: %s", ErrNotReady, rootURI)
	}
	return sels, nil
}
