// Package signal provides activity-timeout helpers, adapted from
// Xray-core's common/signal package. The UDP association engine uses
// ActivityTimer to implement its idle-association timeout.
package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/relaymesh/internal/task"
)

// ActivityUpdater is notified every time activity occurs on a flow.
type ActivityUpdater interface {
	Update()
}

// ActivityTimer calls onTimeout once no Update() arrives within the
// configured window. A zero timeout fires immediately.
type ActivityTimer struct {
	mu        sync.Mutex
	updated   chan struct{}
	checkTask *task.Periodic
	onTimeout func()
	consumed  atomic.Bool
	once      sync.Once
}

func (t *ActivityTimer) Update() {
	select {
	case t.updated <- struct{}{}:
	default:
	}
}

func (t *ActivityTimer) check() error {
	select {
	case <-t.updated:
	default:
		t.finish()
	}
	return nil
}

func (t *ActivityTimer) finish() {
	t.once.Do(func() {
		t.consumed.Store(true)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.checkTask != nil {
			t.checkTask.Close()
		}
		t.onTimeout()
	})
}

// SetTimeout (re)arms the timer. timeout == 0 fires onTimeout immediately,
// matching spec's "0 = none" meaning "no timeout enforced" being handled
// by callers that simply never call SetTimeout in that case.
func (t *ActivityTimer) SetTimeout(timeout time.Duration) {
	if t.consumed.Load() {
		return
	}
	if timeout <= 0 {
		t.finish()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed.Load() {
		return
	}
	newTask := &task.Periodic{Interval: timeout, Execute: t.check}
	if t.checkTask != nil {
		t.checkTask.Close()
	}
	t.checkTask = newTask
	t.Update()
	newTask.Start(nil)
}

// CancelAfterInactivity returns a timer that calls cancel after timeout of
// inactivity; pass a non-positive timeout to disable the check entirely.
func CancelAfterInactivity(cancel func(), timeout time.Duration) *ActivityTimer {
	timer := &ActivityTimer{
		updated:   make(chan struct{}, 1),
		onTimeout: cancel,
	}
	if timeout > 0 {
		timer.SetTimeout(timeout)
	}
	return timer
}
