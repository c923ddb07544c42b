package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallet-exchange/pkg/metrics"
	"wallet-exchange/pkg/types"
)

// QuoteState is the lifecycle state of the session's quote.
type QuoteState int

const (
	QuoteIdle QuoteState = iota
	QuoteQuoting
	QuoteQuoted
	QuoteFailed
)

func (s QuoteState) String() string {
	switch s {
	case QuoteIdle:
		return "idle"
	case QuoteQuoting:
		return "quoting"
	case QuoteQuoted:
		return "quoted"
	case QuoteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Quote request triggers.
const (
	TriggerInput     = "input"
	TriggerManual    = "manual"
	TriggerCountdown = "countdown"
)

// QuoteOutcome is a provider response tagged with the request it answers.
type QuoteOutcome struct {
	Seq     uint64
	Trigger string
	Request types.RouteRequest
	Quote   *types.Quote
	Err     error
}

// RefreshController issues quote requests one at a time and re-issues the
// last request when the countdown after a response expires. It never
// applies outcomes itself; the owner decides whether an outcome is current
// and then calls Resolve.
type RefreshController struct {
	mu       sync.Mutex
	provider QuoteProvider
	interval time.Duration
	deliver  func(QuoteOutcome)
	log      zerolog.Logger
	nowFunc  func() time.Time

	state    QuoteState
	seq      uint64
	last     *types.RouteRequest
	cancel   context.CancelFunc
	timer    *time.Timer
	timerGen uint64
	deadline time.Time
	closed   bool
}

// NewRefreshController creates a controller that refreshes every interval.
func NewRefreshController(provider QuoteProvider, interval time.Duration, deliver func(QuoteOutcome), log zerolog.Logger) *RefreshController {
	return &RefreshController{
		provider: provider,
		interval: interval,
		deliver:  deliver,
		log:      log.With().Str("component", "refresh").Logger(),
		nowFunc:  time.Now,
	}
}

// Request cancels any countdown and in-flight request and asks for a new
// quote. It returns the sequence number the outcome will carry.
func (c *RefreshController) Request(req types.RouteRequest, trigger string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(req, trigger)
}

func (c *RefreshController) startLocked(req types.RouteRequest, trigger string) uint64 {
	if c.closed {
		return 0
	}
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
	}

	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = QuoteQuoting
	c.last = &req

	metrics.QuoteRequests.WithLabelValues(trigger).Inc()
	c.log.Debug().
		Uint64("seq", seq).
		Str("trigger", trigger).
		Str("from", req.FromToken.Symbol).
		Str("to", req.ToToken.Symbol).
		Str("amount", req.AmountRaw).
		Msg("requesting quote")

	go func() {
		start := time.Now()
		quote, err := c.provider.GetRoute(ctx, req)
		metrics.QuoteDuration.Observe(time.Since(start).Seconds())
		cancel()
		c.deliver(QuoteOutcome{Seq: seq, Trigger: trigger, Request: req, Quote: quote, Err: err})
	}()

	return seq
}

// IsCurrent reports whether seq is the latest request.
func (c *RefreshController) IsCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && seq == c.seq && c.state == QuoteQuoting
}

// Resolve records the outcome of the current request and starts the
// countdown to the next refresh. Outcomes for superseded requests are ignored.
func (c *RefreshController) Resolve(seq uint64, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.seq || c.state != QuoteQuoting {
		return false
	}
	c.cancel = nil
	if err != nil {
		c.state = QuoteFailed
	} else {
		c.state = QuoteQuoted
	}
	c.startTimerLocked()
	return true
}

func (c *RefreshController) startTimerLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.deadline = c.nowFunc().Add(c.interval)
	c.timer = time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.timerGen != gen || c.last == nil {
			return
		}
		c.timer = nil
		c.startLocked(*c.last, TriggerCountdown)
	})
}

func (c *RefreshController) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.deadline = time.Time{}
}

// Clear drops the countdown and any in-flight request and returns to idle.
func (c *RefreshController) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *RefreshController) clearLocked() {
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.last = nil
	c.state = QuoteIdle
}

// State returns the current lifecycle state.
func (c *RefreshController) State() QuoteState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the time left before the next automatic refresh.
func (c *RefreshController) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadline.IsZero() {
		return 0
	}
	left := c.deadline.Sub(c.nowFunc())
	if left < 0 {
		return 0
	}
	return left
}

// Close stops the controller permanently.
func (c *RefreshController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.closed = true
}

// classifyQuoteErr maps a provider error to a metrics outcome label.
func classifyQuoteErr(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoRoute):
		return "no_route"
	default:
		return "error"
	}
}
