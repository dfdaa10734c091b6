package task

import (
	"sync"
	"time"
)

// Periodic runs Execute on a fixed Interval until Close is called,
// adapted from Xray-core's common/task.Periodic. The metrics rate task
// (internal/metrics) is built on this.
type Periodic struct {
	Interval time.Duration
	Execute  func() error

	access  sync.Mutex
	timer   *time.Timer
	running bool
}

func (t *Periodic) hasClosed() bool {
	t.access.Lock()
	defer t.access.Unlock()
	return !t.running
}

func (t *Periodic) checkedExecute(onErr func(error)) {
	if t.hasClosed() {
		return
	}
	if err := t.Execute(); err != nil && onErr != nil {
		onErr(err)
	}
	t.access.Lock()
	if t.running {
		t.timer = time.AfterFunc(t.Interval, func() { t.checkedExecute(onErr) })
	}
	t.access.Unlock()
}

// Start begins the periodic loop. onErr, if non-nil, is invoked with any
// error Execute returns; the loop keeps running regardless.
func (t *Periodic) Start(onErr func(error)) {
	t.access.Lock()
	if t.running {
		t.access.Unlock()
		return
	}
	t.running = true
	t.access.Unlock()

	go t.checkedExecute(onErr)
}

// Close stops the loop. Safe to call more than once.
func (t *Periodic) Close() error {
	t.access.Lock()
	defer t.access.Unlock()
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return nil
}
