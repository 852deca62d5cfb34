// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watch keeps a directory organized continuously.
//
// The watcher listens for filesystem events in the target directory,
// debounces them (a download produces a burst of writes, not one
// event), and triggers an organizing run once the directory settles.
// A rate limiter spaces runs out so a busy directory cannot spin the
// engine.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/scan"
	"github.com/AleutianAI/AleutianTidy/pkg/logging"
)

// Trigger runs one organizing pass. The watcher does not interpret
// the error beyond logging it; watch mode keeps going.
type Trigger func(ctx context.Context) error

// Options configures the watcher.
type Options struct {
	// Debounce is how long the directory must stay quiet before a run
	// triggers. Default 2s: long enough for a multi-file download to
	// finish landing.
	Debounce time.Duration

	// MinInterval is the minimum spacing between two runs. Default 5s.
	MinInterval time.Duration
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 5 * time.Second
	}
}

// Watcher triggers organizing runs on filesystem activity.
//
// # Thread Safety
//
// Run is single-shot and owns all internal state; create one Watcher
// per Run call.
type Watcher struct {
	dir      string
	trigger  Trigger
	logger   *logging.Logger
	debounce time.Duration
	limiter  *rate.Limiter
}

// New creates a watcher for dir. trigger is invoked after each settled
// burst of activity.
func New(dir string, trigger Trigger, logger *logging.Logger, opts Options) (*Watcher, error) {
	if trigger == nil {
		return nil, fmt.Errorf("watch trigger must not be nil")
	}
	opts.defaults()

	return &Watcher{
		dir:      dir,
		trigger:  trigger,
		logger:   logger,
		debounce: opts.Debounce,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
	}, nil
}

// Run watches until ctx is canceled.
//
// # Description
//
// Performs one initial organizing pass (files already sitting in the
// directory should not have to wait for the next event), then loops:
// collect events, wait for the debounce window to pass quietly, wait
// for the rate limiter, run the trigger. Events under hidden
// directories and the quarantine staging area are ignored, as are
// events caused by the engine's own moves into rule folders while a
// run executes; a spurious trigger only costs an empty plan.
//
// # Outputs
//
//   - error: Non-nil if the watcher cannot be created or the context
//     is canceled (context.Canceled is returned on normal shutdown).
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.logger.Info("watching", "dir", w.dir, "debounce", w.debounce.String())
	w.fire(ctx)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignore(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				// Drain a tick that fired while we were handling this
				// event, or Reset would deliver it early.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.fire(ctx)
		}
	}
}

// fire runs one organizing pass, rate-limited.
func (w *Watcher) fire(ctx context.Context) {
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}
	if err := w.trigger(ctx); err != nil {
		w.logger.Error("watch run failed", "error", err)
	}
}

// ignore filters events the organizer itself produces or never acts
// on.
func (w *Watcher) ignore(event fsnotify.Event) bool {
	// Only arrivals and renames can produce new candidates.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return true
	}

	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		return true
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if first == scan.QuarantineDirName || strings.HasPrefix(first, ".") {
		return true
	}
	return false
}
