package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/soundux/soundux-routing/errutil"
	"github.com/soundux/soundux-routing/events"
	"github.com/soundux/soundux-routing/logging"
)

// ReconcileFunc is called at the end of Setup with the streams present
// before the virtual devices existed and those present after.
type ReconcileFunc func(ctx context.Context, before, after Snapshot)

// Controller owns the virtual devices and the router for one connection
type Controller struct {
	Topology *Topology
	Streams  *Directory
	Router   *Router

	// Reconcile may be replaced before Setup. The default only logs.
	Reconcile ReconcileFunc

	mu            sync.Mutex
	conn          *Conn
	logger        *zerolog.Logger
	defaultSource string
	baseline      Snapshot
}

func NewController(conn *Conn, bus *events.Bus) *Controller {
	dir := NewDirectory(conn)
	c := &Controller{
		Topology: NewTopology(conn, bus),
		Streams:  dir,
		Router:   NewRouter(conn, dir, bus),
		conn:     conn,
		logger:   logging.GetSubsystemLogger("lifecycle"),
	}
	c.Reconcile = c.logReconcile
	return c
}

// SetupContext removes leftovers from an earlier session, snapshots the
// current streams and creates the virtual devices. Any failure aborts setup
// and is returned; nothing created by this call is left behind.
func (c *Controller) SetupContext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Topology.Loaded() {
		return ErrAlreadySetUp
	}
	removed, err := c.Topology.RemoveLeftovers(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	if removed > 0 {
		c.logger.Info().Int("modules", removed).Msg("removed devices left over from an earlier session")
	}

	source, err := c.Topology.DefaultSource(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	c.defaultSource = source

	before, err := c.Streams.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	c.baseline = before

	if err := c.Topology.Create(ctx, source); err != nil {
		return err
	}

	after, err := c.Streams.Snapshot(ctx)
	if err != nil {
		// The devices are up; reconciliation is optional.
		errutil.LogError(c.logger, "post-setup snapshot", err)
		after = before
	}
	if c.Reconcile != nil {
		c.Reconcile(ctx, before, after)
	}
	c.logger.Info().Str("default_source", source).Msg("virtual devices ready")
	return nil
}

// DestroyContext reverts active redirections and unloads the root devices.
// Failures are logged and teardown always runs to the end.
func (c *Controller) DestroyContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	errutil.LogError(c.logger, "stop passthrough", c.Router.StopPassthrough(ctx))
	errutil.LogError(c.logger, "stop sound input", c.Router.StopSoundInput(ctx))

	if failures := c.Topology.Unload(ctx); failures > 0 {
		c.logger.Warn().Int("failures", failures).Msg("teardown finished with errors")
		return
	}
	c.logger.Info().Msg("virtual devices removed")
}

// DefaultSource returns the recording source found during setup
func (c *Controller) DefaultSource() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultSource
}

// Baseline returns the streams that existed before the devices were created
func (c *Controller) Baseline() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

func (c *Controller) logReconcile(_ context.Context, before, after Snapshot) {
	c.logger.Debug().
		Int("playback_before", len(before.Playback)).
		Int("recording_before", len(before.Recording)).
		Int("playback_after", len(after.Playback)).
		Int("recording_after", len(after.Recording)).
		Msg("no stream reconciliation needed")
}
