package editor

import (
	"sync"
	"time"
)

// StatusKind styles a status message.
type StatusKind string

const (
	StatusInfo    StatusKind = ""
	StatusLoading StatusKind = "loading"
	StatusError   StatusKind = "error"
)

// DefaultStatusHideDelay hides non-loading messages.
const DefaultStatusHideDelay = 3 * time.Second

// Status is what the status bar shows.
type Status struct {
	Message string
	Kind    StatusKind
	Visible bool
}

// StatusBar holds the current message. Loading messages stay until
// replaced; every other message hides after the delay unless a newer
// message arrived first.
type StatusBar struct {
	mu       sync.Mutex
	status   Status
	delay    time.Duration
	seq      uint64
	timer    *time.Timer
	onChange func(Status)
}

// NewStatusBar returns a hidden status bar. onChange may be nil and is
// called outside the lock.
func NewStatusBar(delay time.Duration, onChange func(Status)) *StatusBar {
	if delay <= 0 {
		delay = DefaultStatusHideDelay
	}
	return &StatusBar{delay: delay, onChange: onChange}
}

// Show replaces the current message.
func (b *StatusBar) Show(message string, kind StatusKind) {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.status = Status{Message: message, Kind: kind, Visible: true}
	if kind != StatusLoading {
		b.timer = time.AfterFunc(b.delay, func() { b.hide(seq) })
	}
	st := b.status
	b.mu.Unlock()
	b.notify(st)
}

func (b *StatusBar) hide(seq uint64) {
	b.mu.Lock()
	if seq != b.seq || !b.status.Visible {
		b.mu.Unlock()
		return
	}
	b.status.Visible = false
	st := b.status
	b.mu.Unlock()
	b.notify(st)
}

func (b *StatusBar) notify(st Status) {
	if b.onChange != nil {
		b.onChange(st)
	}
}

// Current returns the status bar contents.
func (b *StatusBar) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Close stops a pending hide timer.
func (b *StatusBar) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
