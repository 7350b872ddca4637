package review

import (
	"context"
	"sync"
	"time"
)

// Publisher delivers signals to reviewers.
type Publisher interface {
	Publish(ctx context.Context, s *Signal) error
}

// Desk is what reviewer-facing surfaces work against: the signals awaiting
// an answer and a way to submit one.
type Desk interface {
	Pending() []*Signal
	Signal(id string) (*Signal, bool)
	Lookup(signalID string) (*Result, bool)
	Submit(ctx context.Context, signalID string, r *Result) error
}

var (
	_ Desk = (*Inbox)(nil)
	_ Desk = (*Bus)(nil)
)

// Inbox tracks emitted signals and the results reviewers send back. It is
// safe for concurrent use and is itself a Publisher for in-process reviewers
// that poll Pending.
type Inbox struct {
	mu      sync.Mutex
	signals map[string]*Signal
	order   []string
	results map[string]*Result
	arrived chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		signals: make(map[string]*Signal),
		results: make(map[string]*Result),
		arrived: make(chan struct{}),
	}
}

// Publish records s as awaiting a result.
func (i *Inbox) Publish(_ context.Context, s *Signal) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.signals[s.ID]; !ok {
		i.order = append(i.order, s.ID)
	}
	i.signals[s.ID] = s
	return nil
}

// Deliver stores the result for signalID and wakes waiters.
func (i *Inbox) Deliver(signalID string, r *Result) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.signals[signalID]; !ok {
		return ErrUnknownSignal
	}
	r.SignalID = signalID
	i.results[signalID] = r
	close(i.arrived)
	i.arrived = make(chan struct{})
	return nil
}

// Submit implements Desk by delivering r locally.
func (i *Inbox) Submit(_ context.Context, signalID string, r *Result) error {
	return i.Deliver(signalID, r)
}

// Lookup returns the result for signalID if one has arrived.
func (i *Inbox) Lookup(signalID string) (*Result, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.results[signalID]
	return r, ok
}

// Wait blocks until a result for signalID arrives, the timeout elapses or
// ctx is done. A non-positive timeout only checks once.
func (i *Inbox) Wait(ctx context.Context, signalID string, timeout time.Duration) (*Result, bool) {
	if timeout <= 0 {
		return i.Lookup(signalID)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		i.mu.Lock()
		r, ok := i.results[signalID]
		arrived := i.arrived
		i.mu.Unlock()
		if ok {
			return r, true
		}
		select {
		case <-arrived:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Signal returns a previously published signal.
func (i *Inbox) Signal(id string) (*Signal, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.signals[id]
	return s, ok
}

// Pending returns signals still waiting for a result, oldest first.
func (i *Inbox) Pending() []*Signal {
	i.mu.Lock()
	defer i.mu.Unlock()
	pending := make([]*Signal, 0, len(i.order))
	for _, id := range i.order {
		if _, done := i.results[id]; !done {
			pending = append(pending, i.signals[id])
		}
	}
	return pending
}
