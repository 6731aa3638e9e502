package render

import "time"

// Token is a handle to scheduled work.
type Token interface {
	Cancel()
}

// Scheduler runs fn after d unless the returned token is cancelled first.
type Scheduler interface {
	After(d time.Duration, fn func()) Token
}

// TimerScheduler uses time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) Token {
	return timerToken{time.AfterFunc(d, fn)}
}

type timerToken struct{ t *time.Timer }

func (t timerToken) Cancel() { t.t.Stop() }

// debouncer keeps at most one pending call.
type debouncer struct {
	sched   Scheduler
	delay   time.Duration
	pending Token
}

func (d *debouncer) call(fn func()) {
	if d.pending != nil {
		d.pending.Cancel()
	}
	d.pending = d.sched.After(d.delay, fn)
}

func (d *debouncer) cancel() {
	if d.pending != nil {
		d.pending.Cancel()
		d.pending = nil
	}
}
