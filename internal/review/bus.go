package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSubjectPrefix roots every subject the bus uses.
const DefaultSubjectPrefix = "skillloop.review"

// Bus carries signals to reviewers over NATS and feeds their answers into an
// Inbox. Every process attached to the same subjects sees the same traffic:
// signals published by any loop are recorded in each bus's inbox, and a
// result submitted through any bus reaches the loop that is waiting on it.
// Signals published before a bus subscribed are not replayed.
//
// Subjects:
//
//	{prefix}.signals.{kind}          signal JSON, published by the loop
//	{prefix}.results.{signal_id}     result JSON, published by reviewers
type Bus struct {
	nc      *nats.Conn
	inbox   *Inbox
	prefix  string
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) BusOption {
	return func(b *Bus) {
		if prefix != "" {
			b.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithPublishRate throttles signal publishing to perSecond with burst.
func WithPublishRate(perSecond float64, burst int) BusOption {
	return func(b *Bus) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithBusLogger sets the logger.
func WithBusLogger(l *zap.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus subscribes to signals and reviewer results on nc and records both
// in inbox.
func NewBus(nc *nats.Conn, inbox *Inbox, opts ...BusOption) (*Bus, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if inbox == nil {
		return nil, fmt.Errorf("inbox cannot be nil")
	}
	b := &Bus{
		nc:      nc,
		inbox:   inbox,
		prefix:  DefaultSubjectPrefix,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, h := range []struct {
		subject string
		handler nats.MsgHandler
	}{
		{b.SignalSubject("*"), b.handleSignal},
		{b.ResultSubject("*"), b.handleResult},
	} {
		sub, err := nc.Subscribe(h.subject, h.handler)
		if err != nil {
			b.unsubscribe()
			return nil, fmt.Errorf("subscribe to %s: %w", h.subject, err)
		}
		b.subs = append(b.subs, sub)
	}
	return b, nil
}

// SignalSubject is where signals of kind are published.
func (b *Bus) SignalSubject(kind Kind) string {
	return fmt.Sprintf("%s.signals.%s", b.prefix, kind)
}

// ResultSubject is where a reviewer answers signalID.
func (b *Bus) ResultSubject(signalID string) string {
	return fmt.Sprintf("%s.results.%s", b.prefix, signalID)
}

// Publish registers s with the inbox and sends it to reviewers.
func (b *Bus) Publish(ctx context.Context, s *Signal) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	if err := b.inbox.Publish(ctx, s); err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to publish signal: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := b.nc.Publish(b.SignalSubject(s.Kind), data); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	b.logger.Debug("published review signal",
		zap.String("signal_id", s.ID),
		zap.String("kind", string(s.Kind)),
		zap.Int("iteration", s.Iteration),
	)
	return nil
}

// Pending implements Desk.
func (b *Bus) Pending() []*Signal { return b.inbox.Pending() }

// Signal implements Desk.
func (b *Bus) Signal(id string) (*Signal, bool) { return b.inbox.Signal(id) }

// Lookup implements Desk.
func (b *Bus) Lookup(signalID string) (*Result, bool) { return b.inbox.Lookup(signalID) }

// Submit delivers r to the local inbox and publishes it on the result
// subject so the loop that emitted the signal receives it too. The signal
// must be known locally.
func (b *Bus) Submit(_ context.Context, signalID string, r *Result) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	payload := r.Payload()
	if err := b.inbox.Deliver(signalID, r); err != nil {
		return err
	}
	if err := b.nc.Publish(b.ResultSubject(signalID), payload); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	b.logger.Debug("forwarded review result", zap.String("signal_id", signalID))
	return nil
}

func (b *Bus) handleSignal(msg *nats.Msg) {
	var s Signal
	if err := json.Unmarshal(msg.Data, &s); err != nil || s.ID == "" {
		b.logger.Warn("discarding malformed review signal",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if _, known := b.inbox.Signal(s.ID); known {
		return
	}
	_ = b.inbox.Publish(context.Background(), &s)
	b.logger.Debug("recorded remote review signal",
		zap.String("signal_id", s.ID),
		zap.String("loop_id", s.LoopID),
		zap.String("kind", string(s.Kind)))
}

func (b *Bus) handleResult(msg *nats.Msg) {
	parts := strings.Split(msg.Subject, ".")
	signalID := parts[len(parts)-1]

	result, err := ParseResult(msg.Data)
	if err != nil {
		b.logger.Warn("discarding malformed review result",
			zap.String("signal_id", signalID), zap.Error(err))
		return
	}
	if err := b.inbox.Deliver(signalID, result); err != nil {
		b.logger.Warn("discarding review result",
			zap.String("signal_id", signalID), zap.Error(err))
		return
	}
	b.logger.Debug("received review result",
		zap.String("signal_id", signalID),
		zap.Int("issues", len(result.IssuesFound)),
	)
}

// Close stops receiving signals and results. The NATS connection stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.unsubscribe()
}

func (b *Bus) unsubscribe() error {
	var errs []error
	for _, sub := range b.subs {
		errs = append(errs, sub.Unsubscribe())
	}
	b.subs = nil
	return errors.Join(errs...)
}
