// Package notify delivers best-effort text messages to customers and tracks
// the connection state of the messaging transport.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateQRCode       State = "QR_CODE"
	StateConnected    State = "CONNECTED"
	StateFailure      State = "FAILURE"
)

// Status is the connection state plus the pairing code to scan while the
// transport waits in StateQRCode.
type Status struct {
	State  State  `json:"state"`
	QRCode string `json:"qr_code,omitempty"`
}

// Transport is a concrete way to reach customers. Watch reports connection
// changes until ctx is done; it is the only source of state updates. Logout
// unlinks the current session so that a new one can be paired.
type Transport interface {
	Send(ctx context.Context, address, text string) error
	Watch(ctx context.Context, report func(Status))
	Logout(ctx context.Context) error
}

type Option func(*Channel)

func WithCountryCode(code string) Option {
	return func(c *Channel) {
		c.countryCode = code
	}
}

func WithSendTimeout(d time.Duration) Option {
	return func(c *Channel) {
		c.timeout = d
	}
}

// WithStateHook registers fn to be called after every status change.
func WithStateHook(fn func(ctx context.Context, s Status)) Option {
	return func(c *Channel) {
		c.onState = fn
	}
}

type Channel struct {
	transport   Transport
	countryCode string
	timeout     time.Duration
	onState     func(ctx context.Context, s Status)
	status      atomic.Value
}

func NewChannel(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		transport:   transport,
		countryCode: "55",
		timeout:     10 * time.Second,
	}
	c.status.Store(Status{State: StateDisconnected})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start follows the transport's connection events until ctx is done.
func (c *Channel) Start(ctx context.Context) {
	go c.transport.Watch(ctx, func(s Status) { c.setStatus(ctx, s) })
}

func (c *Channel) State() State {
	return c.Status().State
}

func (c *Channel) Status() Status {
	return c.status.Load().(Status)
}

func (c *Channel) setStatus(ctx context.Context, s Status) {
	if s.State != StateQRCode {
		s.QRCode = ""
	}
	prev := c.status.Swap(s).(Status)
	if prev == s {
		return
	}
	if prev.State != s.State {
		log.Info().Str("from", string(prev.State)).Str("to", string(s.State)).Msg("notify: channel state changed")
	} else {
		log.Info().Msg("notify: new pairing code issued")
	}
	if c.onState != nil {
		c.onState(ctx, s)
	}
}

// Logout unlinks the transport session. The channel reports disconnected
// until the transport announces its next state.
func (c *Channel) Logout(ctx context.Context) (Status, error) {
	if err := c.transport.Logout(ctx); err != nil {
		log.Error().Err(err).Msg("notify: logout failed")
		return c.Status(), fmt.Errorf("notify: logout failed: %w", err)
	}
	log.Warn().Msg("notify: transport session logged out")
	c.setStatus(ctx, Status{State: StateDisconnected})
	return c.Status(), nil
}

// Send delivers text to address when the channel is connected. Errors are
// logged and never returned.
func (c *Channel) Send(ctx context.Context, address, text string) {
	number := NormalizePhone(address, c.countryCode)
	if number == "" {
		log.Warn().Msg("notify: empty address, skipping message")
		return
	}
	if state := c.State(); state != StateConnected {
		log.Warn().Str("state", string(state)).Str("to", number).Msg("notify: channel not connected, skipping message")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Send(sendCtx, number, text); err != nil {
		log.Error().Err(err).Str("to", number).Msg("notify: failed to send message")
		return
	}
	log.Debug().Str("to", number).Msg("notify: message sent")
}

// NormalizePhone keeps only digits and prefixes countryCode to local numbers
// of 10 or 11 digits.
func NormalizePhone(address, countryCode string) string {
	var b strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if countryCode != "" && len(digits) >= 10 && len(digits) <= 11 && !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits
}
