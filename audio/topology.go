package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"

	"github.com/soundux/soundux-routing/errutil"
	"github.com/soundux/soundux-routing/events"
	"github.com/soundux/soundux-routing/logging"
	"github.com/soundux/soundux-routing/metrics"
	"github.com/soundux/soundux-routing/pkg/pulseid"
)

const (
	// NameTag marks every module this application loads. Any module whose
	// arguments contain it is ours, possibly from a crashed session.
	NameTag = "soundux"

	MainSinkName        = "soundux_sink"
	PassthroughSinkName = "soundux_sink_passthrough"
	MainSinkMonitor     = MainSinkName + ".monitor"
	PassthroughMonitor  = PassthroughSinkName + ".monitor"

	moduleNullSink = "module-null-sink"
	moduleLoopback = "module-loopback"
)

type Role int

const (
	MainSink Role = iota
	MainLoopback
	PassthroughSink
	PassthroughToMain
	PassthroughMonitorLoopback
)

func (r Role) String() string {
	switch r {
	case MainSink:
		return "mainSink"
	case MainLoopback:
		return "mainLoopback"
	case PassthroughSink:
		return "passthroughSink"
	case PassthroughToMain:
		return "passthroughToMain"
	case PassthroughMonitorLoopback:
		return "passthroughMonitorLoopback"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// IsRoot reports whether unloading the device also removes its dependents
func (r Role) IsRoot() bool {
	return r == MainSink || r == MainLoopback || r == PassthroughSink
}

// VirtualDevice is one server module owned by the application
type VirtualDevice struct {
	Role   Role
	Module string
	Args   string
	Index  pulseid.Index
}

// ModuleInfo is a loaded server module as reported by the server
type ModuleInfo struct {
	Index pulseid.Index
	Name  string
	Args  string
}

// Plan returns the devices to create, in creation order. The argument
// strings are what the server sees and must not change.
func Plan(defaultSource string) []VirtualDevice {
	return []VirtualDevice{
		{
			Role:   MainSink,
			Module: moduleNullSink,
			Args:   "sink_name=" + MainSinkName + " rate=44100 sink_properties=device.description=" + MainSinkName,
		},
		{
			Role:   MainLoopback,
			Module: moduleLoopback,
			Args:   "rate=44100 source=" + defaultSource + " sink=" + MainSinkName + " sink_dont_move=true source_dont_move=true",
		},
		{
			Role:   PassthroughSink,
			Module: moduleNullSink,
			Args:   "sink_name=" + PassthroughSinkName + " rate=44100 sink_properties=device.description=" + PassthroughSinkName,
		},
		{
			Role:   PassthroughToMain,
			Module: moduleLoopback,
			Args:   "source=" + PassthroughMonitor + " sink=" + MainSinkName + " source_dont_move=true",
		},
		{
			Role:   PassthroughMonitorLoopback,
			Module: moduleLoopback,
			Args:   "source=" + PassthroughMonitor + " source_dont_move=true",
		},
	}
}

// Topology creates and removes the application's virtual devices
type Topology struct {
	conn    *Conn
	bus     *events.Bus
	logger  *zerolog.Logger
	devices []VirtualDevice
}

func NewTopology(conn *Conn, bus *events.Bus) *Topology {
	return &Topology{
		conn:   conn,
		bus:    bus,
		logger: logging.GetSubsystemLogger("topology"),
	}
}

// Devices returns the devices created by the last successful Create
func (t *Topology) Devices() []VirtualDevice {
	return append([]VirtualDevice(nil), t.devices...)
}

// Loaded reports whether devices are currently owned
func (t *Topology) Loaded() bool {
	return len(t.devices) > 0
}

// Modules lists every module loaded on the server
func (t *Topology) Modules(ctx context.Context) ([]ModuleInfo, error) {
	var reply proto.GetModuleInfoListReply
	if err := t.conn.Await(ctx, &proto.GetModuleInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("failed to get module list: %w", err)
	}
	modules := make([]ModuleInfo, 0, len(reply))
	for _, info := range reply {
		if info == nil {
			continue
		}
		modules = append(modules, ModuleInfo{
			Index: pulseid.Index(info.ModuleIndex),
			Name:  info.ModuleName,
			Args:  info.ModuleArgs,
		})
	}
	return modules, nil
}

// Owned lists server modules carrying the application's name tag
func (t *Topology) Owned(ctx context.Context) ([]ModuleInfo, error) {
	modules, err := t.Modules(ctx)
	if err != nil {
		return nil, err
	}
	owned := modules[:0]
	for _, m := range modules {
		if strings.Contains(m.Args, NameTag) {
			owned = append(owned, m)
		}
	}
	return owned, nil
}

// RemoveLeftovers unloads every tagged module. Modules that disappear while
// we work (dependents of a removed sink) are not errors.
func (t *Topology) RemoveLeftovers(ctx context.Context) (int, error) {
	owned, err := t.Owned(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range owned {
		err := t.unload(ctx, m.Index)
		if isGone(err) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to unload left over module %s: %w", m.Index, err)
		}
		removed++
		metrics.LeftoversRemovedTotal.Inc()
		t.logger.Info().Stringer("module", m.Index).Str("args", m.Args).Msg("unloaded left over module")
		t.bus.Publish(events.LeftoverRemoved{ModuleIndex: m.Index.Uint32(), Args: m.Args})
	}
	return removed, nil
}

// DefaultSource returns the name of the server's default recording source
func (t *Topology) DefaultSource(ctx context.Context) (string, error) {
	var reply proto.GetServerInfoReply
	if err := t.conn.Await(ctx, &proto.GetServerInfo{}, &reply); err != nil {
		return "", fmt.Errorf("failed to get server info: %w", err)
	}
	if reply.DefaultSourceName == "" {
		return "", fmt.Errorf("server reports no default source")
	}
	return reply.DefaultSourceName, nil
}

// Create loads the devices in plan order. On failure the devices loaded so
// far are unloaded again and the error wraps ErrSetup.
func (t *Topology) Create(ctx context.Context, defaultSource string) error {
	if t.Loaded() {
		return ErrAlreadySetUp
	}
	created := []VirtualDevice{}
	for _, dev := range Plan(defaultSource) {
		idx, err := t.load(ctx, dev)
		if err != nil {
			metrics.ModuleLoadsTotal.WithLabelValues(dev.Role.String(), metrics.ResultFailed).Inc()
			t.logger.Error().Err(err).Stringer("role", dev.Role).Msg("failed to load virtual device")
			t.rollback(ctx, created)
			return fmt.Errorf("%w: %s: %w", ErrSetup, dev.Role, err)
		}
		metrics.ModuleLoadsTotal.WithLabelValues(dev.Role.String(), metrics.ResultOK).Inc()
		dev.Index = idx
		created = append(created, dev)
		t.logger.Debug().Stringer("role", dev.Role).Stringer("module", idx).Msg("loaded virtual device")
	}
	t.devices = created

	modules := make([]uint32, len(created))
	for i, dev := range created {
		modules[i] = dev.Index.Uint32()
	}
	t.bus.Publish(events.DevicesCreated{Modules: modules})
	return nil
}

func (t *Topology) load(ctx context.Context, dev VirtualDevice) (pulseid.Index, error) {
	var reply proto.LoadModuleReply
	err := t.conn.Await(ctx, &proto.LoadModule{Name: dev.Module, Args: dev.Args}, &reply)
	if err != nil {
		return pulseid.Undefined, err
	}
	idx := pulseid.Index(reply.ModuleIndex)
	if !idx.IsValid() {
		return pulseid.Undefined, fmt.Errorf("server returned module index %d", int32(reply.ModuleIndex))
	}
	return idx, nil
}

// rollback unloads the roots among devs in reverse creation order, then
// any tagged module still present. A load the server finished after we
// stopped waiting is only found by the second pass. The caller's
// cancellation is ignored; each request keeps its operation timeout.
func (t *Topology) rollback(ctx context.Context, devs []VirtualDevice) {
	ctx = context.WithoutCancel(ctx)
	for i := len(devs) - 1; i >= 0; i-- {
		if !devs[i].Role.IsRoot() {
			continue
		}
		err := t.unload(ctx, devs[i].Index)
		if !isGone(err) {
			errutil.LogError(t.logger, "rollback "+devs[i].Role.String(), err)
		}
	}

	stragglers, err := t.Owned(ctx)
	if errutil.LogError(t.logger, "rollback listing", err) {
		return
	}
	for _, m := range stragglers {
		err := t.unload(ctx, m.Index)
		if !isGone(err) {
			errutil.LogError(t.logger, "rollback module "+m.Index.String(), err)
		}
	}
}

// Unload removes the root devices in creation order; dependents go with
// them. Every root is attempted; the number of failures is returned.
func (t *Topology) Unload(ctx context.Context) int {
	if !t.Loaded() {
		return 0
	}
	failures := 0
	for _, dev := range t.devices {
		if !dev.Role.IsRoot() {
			continue
		}
		err := t.unload(ctx, dev.Index)
		if err != nil && !isGone(err) {
			failures++
			errutil.LogError(t.logger, "unload "+dev.Role.String(), err)
		}
	}
	t.devices = nil
	t.bus.Publish(events.DevicesRemoved{Failures: failures})
	return failures
}

func (t *Topology) unload(ctx context.Context, idx pulseid.Index) error {
	err := t.conn.Await(ctx, &proto.UnloadModule{ModuleIndex: idx.Uint32()}, nil)
	switch {
	case err == nil:
		metrics.ModuleUnloadsTotal.WithLabelValues(metrics.ResultOK).Inc()
	case isGone(err):
		metrics.ModuleUnloadsTotal.WithLabelValues(metrics.ResultGone).Inc()
	default:
		metrics.ModuleUnloadsTotal.WithLabelValues(metrics.ResultFailed).Inc()
	}
	return err
}
