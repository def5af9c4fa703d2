package audio

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfreymuth/pulse/proto"

	"github.com/soundux/soundux-routing/events"
	"github.com/soundux/soundux-routing/routershim"
)

const (
	hwSink   = "alsa_output.pci-0000_00_1f.3.analog-stereo"
	hwSource = "alsa_input.pci-0000_00_1f.3.analog-stereo"
)

var errTransport = errors.New("pulse: connection closed")

type fakeModule struct {
	index uint32
	name  string
	args  string
	kv    map[string]string
}

type fakeStream struct {
	index    uint32
	device   uint32
	driver   string
	resample string
	props    proto.PropList
}

// fakeServer is an in-memory PulseAudio that answers the requests the
// routing code sends, with the same reply types the real client fills.
type fakeServer struct {
	mu sync.Mutex

	nextModule, nextSink, nextSource, nextStream uint32

	modules       map[uint32]*fakeModule
	sinks         map[string]uint32
	sources       map[string]uint32
	sinkInputs    []*fakeStream
	sourceOutputs []*fakeStream
	defaultSource string

	reindexOnMove bool
	failLoadArgs  string          // LoadModule with args containing this returns an invalid index
	failUnload    map[uint32]bool // module index -> ErrAccessDenied
	failMove      map[uint32]bool // stream index -> ErrAccessDenied
	vanishOnMove  map[uint32]bool // stream disappears just before the move
	dropped       bool
	block         chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
	requests    []string
	closed      bool
}

func newFakeServer() *fakeServer {
	s := &fakeServer{
		nextModule:    20,
		nextSink:      1,
		nextSource:    2,
		nextStream:    100,
		modules:       map[uint32]*fakeModule{},
		sinks:         map[string]uint32{hwSink: 0},
		sources:       map[string]uint32{hwSource: 0, hwSink + ".monitor": 1},
		defaultSource: hwSource,
		failUnload:    map[uint32]bool{},
		failMove:      map[uint32]bool{},
		vanishOnMove:  map[uint32]bool{},
	}
	s.modules[0] = &fakeModule{index: 0, name: "module-native-protocol-unix"}
	s.modules[1] = &fakeModule{index: 1, name: "module-udev-detect", args: "tsched=0"}
	return s
}

func (s *fakeServer) RawRequest(cmd proto.RequestArgs, reply proto.Reply) error {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxInflight.Load()
		if n <= m || s.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, fmt.Sprintf("%T", cmd))
	if s.dropped || s.closed {
		return errTransport
	}

	switch req := cmd.(type) {
	case *proto.GetServerInfo:
		r := reply.(*proto.GetServerInfoReply)
		r.PackageName = "pulseaudio"
		r.DefaultSinkName = hwSink
		r.DefaultSourceName = s.defaultSource
	case *proto.GetModuleInfoList:
		r := reply.(*proto.GetModuleInfoListReply)
		for _, idx := range s.moduleIndices() {
			m := s.modules[idx]
			*r = append(*r, &proto.GetModuleInfoReply{ModuleIndex: m.index, ModuleName: m.name, ModuleArgs: m.args})
		}
	case *proto.LoadModule:
		idx, err := s.load(req.Name, req.Args)
		if err != nil {
			return err
		}
		reply.(*proto.LoadModuleReply).ModuleIndex = idx
	case *proto.UnloadModule:
		return s.unload(req.ModuleIndex)
	case *proto.GetSinkInputInfoList:
		r := reply.(*proto.GetSinkInputInfoListReply)
		for _, st := range s.sinkInputs {
			*r = append(*r, &proto.GetSinkInputInfoReply{
				SinkInputIndex: st.index,
				SinkIndex:      st.device,
				Driver:         st.driver,
				ResampleMethod: st.resample,
				Properties:     st.props,
			})
		}
	case *proto.GetSourceOutputInfoList:
		r := reply.(*proto.GetSourceOutputInfoListReply)
		for _, st := range s.sourceOutputs {
			*r = append(*r, &proto.GetSourceOutputInfoReply{
				SourceOutpuIndex: st.index,
				SourceIndex:      st.device,
				Driver:           st.driver,
				ResampleMethod:   st.resample,
				Properties:       st.props,
			})
		}
	case *proto.MoveSinkInput:
		return s.move(&s.sinkInputs, s.sinks, req.SinkInputIndex, req.DeviceIndex, req.DeviceName)
	case *proto.MoveSourceOutput:
		return s.move(&s.sourceOutputs, s.sources, req.SourceOutputIndex, req.DeviceIndex, req.DeviceName)
	default:
		return fmt.Errorf("fake server: unexpected request %T", cmd)
	}
	return nil
}

func (s *fakeServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeServer) moduleIndices() []uint32 {
	idx := make([]uint32, 0, len(s.modules))
	for i := range s.modules {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	return idx
}

func parseArgs(args string) map[string]string {
	kv := map[string]string{}
	for _, f := range strings.Fields(args) {
		k, v, _ := strings.Cut(f, "=")
		kv[k] = v
	}
	return kv
}

func (s *fakeServer) load(name, args string) (uint32, error) {
	if s.failLoadArgs != "" && strings.Contains(args, s.failLoadArgs) {
		neg := int32(-1)
		return uint32(neg), nil
	}
	kv := parseArgs(args)
	switch name {
	case moduleNullSink:
		sinkName := kv["sink_name"]
		if sinkName == "" {
			return 0, proto.ErrInvalidArgument
		}
		if _, ok := s.sinks[sinkName]; ok {
			return 0, proto.ErrInvalidArgument
		}
		s.sinks[sinkName] = s.nextSink
		s.nextSink++
		s.sources[sinkName+".monitor"] = s.nextSource
		s.nextSource++
	case moduleLoopback:
		if _, ok := s.sources[kv["source"]]; !ok {
			return 0, proto.ErrInvalidArgument
		}
		if sink, ok := kv["sink"]; ok {
			if _, ok := s.sinks[sink]; !ok {
				return 0, proto.ErrInvalidArgument
			}
		}
	default:
		return 0, proto.ErrInvalidArgument
	}
	idx := s.nextModule
	s.nextModule++
	s.modules[idx] = &fakeModule{index: idx, name: name, args: args, kv: kv}
	return idx, nil
}

func (s *fakeServer) unload(idx uint32) error {
	m, ok := s.modules[idx]
	if !ok {
		return proto.ErrNoSuchEntity
	}
	if s.failUnload[idx] {
		return proto.ErrAccessDenied
	}
	delete(s.modules, idx)
	if m.name != moduleNullSink {
		return nil
	}

	sinkName := m.kv["sink_name"]
	monitor := sinkName + ".monitor"
	sinkIdx, monIdx := s.sinks[sinkName], s.sources[monitor]
	delete(s.sinks, sinkName)
	delete(s.sources, monitor)
	for _, st := range s.sinkInputs {
		if st.device == sinkIdx {
			st.device = s.sinks[hwSink]
		}
	}
	for _, st := range s.sourceOutputs {
		if st.device == monIdx {
			st.device = s.sources[s.defaultSource]
		}
	}
	// Loopbacks attached to the removed sink go with it.
	for _, i := range s.moduleIndices() {
		dep := s.modules[i]
		if dep.name == moduleLoopback && (dep.kv["source"] == monitor || dep.kv["sink"] == sinkName) {
			delete(s.modules, i)
		}
	}
	return nil
}

func (s *fakeServer) move(streams *[]*fakeStream, devices map[string]uint32, idx, devIdx uint32, devName string) error {
	pos := -1
	for i, st := range *streams {
		if st.index == idx {
			pos = i
		}
	}
	if pos < 0 {
		return proto.ErrNoSuchEntity
	}
	if s.vanishOnMove[idx] {
		*streams = append((*streams)[:pos], (*streams)[pos+1:]...)
		return proto.ErrNoSuchEntity
	}
	if s.failMove[idx] {
		return proto.ErrAccessDenied
	}

	target, found := uint32(0), false
	if devIdx != proto.Undefined {
		for _, d := range devices {
			if d == devIdx {
				target, found = d, true
			}
		}
	} else {
		target, found = devices[devName]
	}
	if !found {
		return proto.ErrNoSuchEntity
	}

	st := (*streams)[pos]
	st.device = target
	if s.reindexOnMove {
		st.index = s.nextStream
		s.nextStream++
	}
	return nil
}

func props(name string, pid int, binary string) proto.PropList {
	p := proto.PropList{}
	if name != "" {
		p[propAppName] = proto.PropListString(name)
	}
	if pid != 0 {
		p[propAppPID] = proto.PropListString(strconv.Itoa(pid))
	}
	if binary != "" {
		p[propAppBinary] = proto.PropListString(binary)
	}
	return p
}

func (s *fakeServer) addPlayback(name string, pid int) uint32 {
	return s.addStream(&s.sinkInputs, s.sinks[hwSink], nativeDriver, "", props(name, pid, "/usr/bin/"+strings.ToLower(name)))
}

func (s *fakeServer) addRecording(name string, pid int) uint32 {
	return s.addStream(&s.sourceOutputs, s.sources[hwSource], nativeDriver, "", props(name, pid, "/usr/bin/"+strings.ToLower(name)))
}

func (s *fakeServer) addStream(streams *[]*fakeStream, device uint32, driver, resample string, p proto.PropList) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextStream
	s.nextStream++
	*streams = append(*streams, &fakeStream{index: idx, device: device, driver: driver, resample: resample, props: p})
	return idx
}

// playbackOn returns the names of playback streams on the named sink
func (s *fakeServer) playbackOn(sink string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.sinks[sink]
	names := []string{}
	if !ok {
		return names
	}
	for _, st := range s.sinkInputs {
		if st.device == idx {
			names = append(names, st.props[propAppName].String())
		}
	}
	return names
}

// recordingOn returns the names of recording streams on the named source
func (s *fakeServer) recordingOn(source string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.sources[source]
	names := []string{}
	if !ok {
		return names
	}
	for _, st := range s.sourceOutputs {
		if st.device == idx {
			names = append(names, st.props[propAppName].String())
		}
	}
	return names
}

// ownedArgs returns the argument strings of tagged modules, in index order
func (s *fakeServer) ownedArgs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := []string{}
	for _, idx := range s.moduleIndices() {
		if strings.Contains(s.modules[idx].args, NameTag) {
			args = append(args, s.modules[idx].args)
		}
	}
	return args
}

func (s *fakeServer) countRequests(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r == kind {
			n++
		}
	}
	return n
}

func (s *fakeServer) sinkIndex(name string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks[name]
}

func (s *fakeServer) set(f func(s *fakeServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// interceptor lets a test change how individual requests are answered.
// forward hands the request to the fake server.
type interceptor struct {
	*fakeServer
	intercept func(cmd proto.RequestArgs, forward func() error) error
}

func (i *interceptor) RawRequest(cmd proto.RequestArgs, reply proto.Reply) error {
	return i.intercept(cmd, func() error { return i.fakeServer.RawRequest(cmd, reply) })
}

func newTestConn(t *testing.T, srv *fakeServer, bus *events.Bus) *Conn {
	t.Helper()
	return newTestConnFor(t, srv, bus)
}

func newTestConnFor(t *testing.T, client Requester, bus *events.Bus) *Conn {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OperationTimeout = 2 * time.Second
	return NewConn(client, cfg, bus)
}

func newTestController(t *testing.T) (*Controller, *fakeServer, *events.Bus) {
	t.Helper()
	srv := newFakeServer()
	bus := events.NewBus()
	return NewController(newTestConn(t, srv, bus), bus), srv, bus
}

func names(recs []routershim.StreamRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}
