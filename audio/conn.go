package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"

	"github.com/soundux/soundux-routing/events"
	"github.com/soundux/soundux-routing/logging"
	"github.com/soundux/soundux-routing/metrics"
)

// Requester is the part of *pulse.Client the routing code needs.
type Requester interface {
	RawRequest(cmd proto.RequestArgs, reply proto.Reply) error
	Close()
}

// Conn owns the sound server connection and serializes every request on it.
type Conn struct {
	client  Requester
	timeout time.Duration
	bus     *events.Bus
	logger  *zerolog.Logger

	// slot holds a token while a request is outstanding. The token is only
	// returned once the server answers, even if the caller gave up waiting.
	slot chan struct{}
	lost atomic.Bool
}

// Connect dials the sound server and waits until the context is ready or
// failed. A failure is returned to the caller; it never ends the process.
func Connect(ctx context.Context, cfg *Config, bus *events.Bus) (*Conn, error) {
	logger := logging.GetSubsystemLogger("pulse")
	opts := []pulse.ClientOption{pulse.ClientApplicationName(cfg.ApplicationName)}
	if cfg.Server != "" {
		opts = append(opts, pulse.ClientServerString(cfg.Server))
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	cc := make(chan *pulse.Client)
	cerr := make(chan error)
	go func() {
		c, err := pulse.NewClient(opts...)
		if err != nil {
			cerr <- err
		} else {
			cc <- c
		}
	}()

	select {
	case c := <-cc:
		logger.Info().Str("server", cfg.Server).Msg("PulseAudio is ready")
		return NewConn(c, cfg, bus), nil
	case err := <-cerr:
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	case <-ctx.Done():
		go func() {
			select {
			case <-cerr:
			case c := <-cc:
				c.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %w", ErrConnect, ctx.Err())
	}
}

// NewConn wraps an established client
func NewConn(client Requester, cfg *Config, bus *events.Bus) *Conn {
	return &Conn{
		client:  client,
		timeout: cfg.OperationTimeout,
		bus:     bus,
		logger:  logging.GetSubsystemLogger("pulse"),
		slot:    make(chan struct{}, 1),
	}
}

// Await submits one request and blocks until it is answered, ctx is done
// or the operation timeout elapses. A ctx that is already done fails
// without submitting anything. reply may be nil for requests without
// a reply body; it must not be read after a non-nil error.
func (c *Conn) Await(ctx context.Context, req proto.RequestArgs, reply proto.Reply) error {
	if c.lost.Load() {
		return ErrConnectionLost
	}
	if err := ctx.Err(); err != nil {
		return c.abandoned(req, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return c.abandoned(req, ctx.Err())
	}

	done := make(chan error, 1)
	go func() {
		err := c.client.RawRequest(req, reply)
		<-c.slot
		done <- err
	}()

	select {
	case err := <-done:
		return c.classify(req, err)
	case <-ctx.Done():
		return c.abandoned(req, ctx.Err())
	}
}

// abandoned reports a request the caller stopped waiting for
func (c *Conn) abandoned(req proto.RequestArgs, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.OperationTimeoutsTotal.Inc()
		c.logger.Warn().Str("request", fmt.Sprintf("%T", req)).Msg("operation timed out")
		return fmt.Errorf("%w: %T: %w", ErrTimeout, req, err)
	}
	return fmt.Errorf("%w: %T: %w", ErrCanceled, req, err)
}

// classify maps a client error onto the sentinel errors. Only transport
// failures mark the connection lost; the client's own request deadline
// fails just that call.
func (c *Conn) classify(req proto.RequestArgs, err error) error {
	if err == nil {
		return nil
	}
	var perr proto.Error
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %T: %w", ErrRequestFailed, req, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return c.abandoned(req, err)
	}
	if c.lost.CompareAndSwap(false, true) {
		c.logger.Error().Err(err).Msg("connection to PulseAudio lost")
		c.bus.Publish(events.ConnectionLost{Err: err})
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// Lost reports whether the connection has dropped
func (c *Conn) Lost() bool {
	return c.lost.Load()
}

// Close releases the connection
func (c *Conn) Close() {
	c.lost.Store(true)
	c.client.Close()
}

// isGone reports whether the server rejected a request because the object
// no longer exists.
func isGone(err error) bool {
	return errors.Is(err, proto.ErrNoSuchEntity)
}
