package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"

	"github.com/soundux/soundux-routing/events"
	"github.com/soundux/soundux-routing/logging"
	"github.com/soundux/soundux-routing/metrics"
	"github.com/soundux/soundux-routing/pkg/pulseid"
	"github.com/soundux/soundux-routing/routershim"
)

// Router diverts at most one playback app to the passthrough sink and at
// most one recording app to the soundboard monitor.
//
// Targets are tracked by application name: the server hands out new stream
// indices when a stream changes device, so an index captured now says
// nothing about the stream later. Activation moves every stream with the
// name; reverting moves the first one found.
type Router struct {
	mu     sync.Mutex
	conn   *Conn
	dir    *Directory
	bus    *events.Bus
	logger *zerolog.Logger

	passthrough *routershim.StreamRecord
	injection   *routershim.StreamRecord
}

func NewRouter(conn *Conn, dir *Directory, bus *events.Bus) *Router {
	return &Router{
		conn:   conn,
		dir:    dir,
		bus:    bus,
		logger: logging.GetSubsystemLogger("router"),
	}
}

// PassthroughFrom moves every playback stream named like app onto the
// passthrough sink, undoing any earlier passthrough first.
func (r *Router) PassthroughFrom(ctx context.Context, app *routershim.StreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activate(ctx, routershim.Playback, app, &r.passthrough)
}

// StopPassthrough returns the diverted playback stream to its original sink
func (r *Router) StopPassthrough(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revert(ctx, routershim.Playback, &r.passthrough)
}

// InputSoundTo makes every recording stream named like app capture from the
// soundboard sink's monitor.
func (r *Router) InputSoundTo(ctx context.Context, app *routershim.StreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activate(ctx, routershim.Recording, app, &r.injection)
}

// StopSoundInput returns the redirected recording stream to its original source
func (r *Router) StopSoundInput(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revert(ctx, routershim.Recording, &r.injection)
}

func (r *Router) IsPassthroughActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passthrough != nil
}

func (r *Router) IsSoundInputActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.injection != nil
}

// Passthrough returns the current passthrough target
func (r *Router) Passthrough() (routershim.StreamRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.passthrough == nil {
		return routershim.StreamRecord{}, false
	}
	return *r.passthrough, true
}

// SoundInput returns the current sound injection target
func (r *Router) SoundInput() (routershim.StreamRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.injection == nil {
		return routershim.StreamRecord{}, false
	}
	return *r.injection, true
}

func (r *Router) activate(ctx context.Context, kind routershim.StreamKind, app *routershim.StreamRecord, slot **routershim.StreamRecord) error {
	if app == nil || app.Kind != kind {
		r.logger.Warn().Stringer("kind", kind).Msg("tried to redirect a non existent app")
		return fmt.Errorf("%w: need a %s stream", ErrInvalidTarget, kind)
	}
	if cur := *slot; cur != nil && cur.SameTarget(*app) {
		r.logger.Info().Str("app", app.Name).Stringer("kind", kind).Msg("ignoring request, app is already redirected")
		return nil
	}
	if err := r.revert(ctx, kind, slot); err != nil {
		r.logger.Warn().Err(err).Stringer("kind", kind).Msg("failed to stop current redirection")
	}

	streams, err := r.list(ctx, kind)
	if err != nil {
		return err
	}
	moved := []routershim.StreamRecord{}
	for _, s := range streams {
		if s.Name != app.Name {
			continue
		}
		err := r.move(ctx, s, pulseid.Undefined, destination(kind))
		if err != nil && isGone(err) && !r.present(ctx, s) {
			r.logger.Debug().Stringer("stream", s.ID).Msg("stream vanished before move")
			continue
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("app", s.Name).Stringer("stream", s.ID).Msgf("failed to move to %s", destination(kind))
			r.undo(ctx, moved)
			return fmt.Errorf("%w: %s #%s to %s: %w", ErrMoveFailed, s.Name, s.ID, destination(kind), err)
		}
		moved = append(moved, s)
	}

	target := *app
	*slot = &target
	r.changed(kind, true, target)
	r.logger.Info().Str("app", target.Name).Int("streams", len(moved)).Stringer("kind", kind).Msg("redirected")
	return nil
}

func (r *Router) revert(ctx context.Context, kind routershim.StreamKind, slot **routershim.StreamRecord) error {
	if *slot == nil {
		return nil
	}
	target := **slot
	// Cleared up front so a failed revert never leaves a phantom redirection.
	*slot = nil
	r.changed(kind, false, target)

	streams, err := r.list(ctx, kind)
	if err != nil {
		return err
	}
	for _, s := range streams {
		if s.Name != target.Name {
			continue
		}
		err := r.move(ctx, s, target.Device, "")
		if err != nil && !isGone(err) {
			r.logger.Warn().Err(err).Str("app", s.Name).Stringer("stream", s.ID).Msg("failed to move back to original device")
			return fmt.Errorf("%w: %s #%s back to %s: %w", ErrMoveFailed, s.Name, s.ID, target.Device, err)
		}
		break
	}
	return nil
}

// undo returns streams moved by a failed activation to their previous
// devices, even if the caller has given up.
func (r *Router) undo(ctx context.Context, moved []routershim.StreamRecord) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range moved {
		current, ok := r.find(ctx, s)
		if !ok {
			continue
		}
		if err := r.move(ctx, current, s.Device, ""); err != nil {
			r.logger.Warn().Err(err).Str("app", s.Name).Msg("failed to undo partial redirection")
		}
	}
}

// present reports whether the stream still exists. If the listing itself
// fails the stream is assumed present.
func (r *Router) present(ctx context.Context, s routershim.StreamRecord) bool {
	streams, err := r.list(ctx, s.Kind)
	if err != nil {
		return true
	}
	for _, cur := range streams {
		if cur.ID == s.ID {
			return true
		}
	}
	return false
}

// find locates a stream again after a move. The index may have changed, so
// fall back to a same-named stream that is no longer on its old device.
func (r *Router) find(ctx context.Context, s routershim.StreamRecord) (routershim.StreamRecord, bool) {
	streams, err := r.list(ctx, s.Kind)
	if err != nil {
		return routershim.StreamRecord{}, false
	}
	for _, cur := range streams {
		if cur.ID == s.ID && cur.Name == s.Name {
			return cur, true
		}
	}
	for _, cur := range streams {
		if cur.Name == s.Name && cur.Device != s.Device {
			return cur, true
		}
	}
	return routershim.StreamRecord{}, false
}

func (r *Router) list(ctx context.Context, kind routershim.StreamKind) ([]routershim.StreamRecord, error) {
	if kind == routershim.Recording {
		return r.dir.Recording(ctx)
	}
	return r.dir.Playback(ctx)
}

// move sends s to a device given either by index or, with an undefined
// index, by name.
func (r *Router) move(ctx context.Context, s routershim.StreamRecord, device pulseid.Index, deviceName string) error {
	var req proto.RequestArgs
	if s.Kind == routershim.Recording {
		req = &proto.MoveSourceOutput{
			SourceOutputIndex: s.ID.Uint32(),
			DeviceIndex:       device.Uint32(),
			DeviceName:        deviceName,
		}
	} else {
		req = &proto.MoveSinkInput{
			SinkInputIndex: s.ID.Uint32(),
			DeviceIndex:    device.Uint32(),
			DeviceName:     deviceName,
		}
	}
	err := r.conn.Await(ctx, req, nil)
	switch {
	case err == nil:
		metrics.StreamMovesTotal.WithLabelValues(s.Kind.String(), metrics.ResultOK).Inc()
	case isGone(err):
		metrics.StreamMovesTotal.WithLabelValues(s.Kind.String(), metrics.ResultGone).Inc()
	default:
		metrics.StreamMovesTotal.WithLabelValues(s.Kind.String(), metrics.ResultFailed).Inc()
	}
	return err
}

func (r *Router) changed(kind routershim.StreamKind, active bool, target routershim.StreamRecord) {
	if kind == routershim.Recording {
		metrics.SetActive("sound_input", active)
		r.bus.Publish(events.SoundInputChanged{Active: active, Target: target})
		return
	}
	metrics.SetActive("passthrough", active)
	r.bus.Publish(events.PassthroughChanged{Active: active, Target: target})
}

// destination is the device a redirected stream of the kind is moved to
func destination(kind routershim.StreamKind) string {
	if kind == routershim.Recording {
		return MainSinkMonitor
	}
	return PassthroughSinkName
}
