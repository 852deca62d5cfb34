// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one executed move, delivered in completion
// order.
type Outcome struct {
	Move Move
	Err  error
}

// runPool executes fn for every move on a bounded worker pool and
// feeds results to record in completion order.
//
// # Description
//
// Individual move failures do not stop the pool: the failure travels
// inside the Outcome and the remaining moves proceed. Only context
// cancellation or a record error (a move that happened but could not
// be logged) aborts the run, because an unlogged move is not
// revertible.
//
// Destinations were reserved at planning time, so workers never race
// on a path; record runs under a mutex, so the move log's order is
// exactly completion order.
func runPool(ctx context.Context, moves []Move, workers int, fn func(Move) error, record func(Outcome) error) error {
	g, ctx := errgroup.WithContext(ctx)
	work := make(chan Move)

	g.Go(func() error {
		defer close(work)
		for _, m := range moves {
			select {
			case work <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var recordMu sync.Mutex
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for m := range work {
				err := fn(m)

				recordMu.Lock()
				recordErr := record(Outcome{Move: m, Err: err})
				recordMu.Unlock()
				if recordErr != nil {
					return recordErr
				}

				if err := ctx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
