package scrape

import (
	"context"
	"fmt"

	"github.com/coolbeans/riskscan/pkg/filing"
)

// Sink receives the accepted text of a filing exactly once.
type Sink interface {
	Commit(target filing.Filing, text string) error
}

// Run extracts the section of one filing within the deadline of ctx and
// commits the accepted text to sink. Nothing is written for NoMatch or on
// error.
//
// The cascade runs on its own goroutine. When the deadline passes first the
// scan finishes in the background and its result is discarded.
func (e *Engine) Run(ctx context.Context, document []byte, target filing.Filing, request Request, sink Sink) (Result, error) {
	type extraction struct {
		result Result
		err    error
	}

	done := make(chan extraction, 1)
	go func() {
		result, err := e.ExtractContext(ctx, document, request)
		done <- extraction{result: result, err: err}
	}()

	var finished extraction
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("extraction of %s stopped: %w", target.ID(), ctx.Err())
	case finished = <-done:
	}

	if finished.err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("extraction of %s stopped: %w", target.ID(), ctx.Err())
		}
		return Result{}, finished.err
	}
	if !finished.result.Matched() || sink == nil {
		return finished.result, nil
	}

	if err := sink.Commit(target, finished.result.Text); err != nil {
		return Result{}, fmt.Errorf("failed to commit %s: %w", target.ID(), err)
	}
	return finished.result, nil
}
