// Package task provides small concurrency helpers used by the relay
// paths, adapted from Xray-core's common/task package.
package task

import "context"

// OnSuccess returns a func that runs g() only after f() returns nil.
func OnSuccess(f func() error, g func() error) func() error {
	return func() error {
		if err := f(); err != nil {
			return err
		}
		return g()
	}
}

// Run executes every task concurrently and returns once all of them have
// returned or ctx is done, whichever comes first, with the first non-nil
// error (or ctx's error). Used to join the two directions of a
// bidirectional copy: the flow ends only when both directions have ended.
func Run(ctx context.Context, tasks ...func() error) error {
	n := len(tasks)
	done := make(chan error, n)

	for _, t := range tasks {
		go func(f func() error) {
			done <- f()
		}(t)
	}

	var firstErr error
	received := 0
	for received < n {
		select {
		case err := <-done:
			received++
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			return firstErr
		}
	}
	return firstErr
}
