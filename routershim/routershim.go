package routershim

import "github.com/soundux/soundux-routing/pkg/pulseid"

// Shim is the routing contract consumed by the GUI and hotkey layer.
// Calls block until the sound server answers or the operation times out.
type Shim interface {
	Setup() error
	Destroy()
	PlaybackStreams() []StreamRecord
	RecordingStreams() []StreamRecord
	PassthroughFrom(app StreamRecord) bool
	StopPassthrough() bool
	IsPassthroughActive() bool
	InputSoundTo(app StreamRecord) bool
	StopSoundInput() bool
}

// StreamKind tells playback streams (sink inputs) from recording streams
// (source outputs)
type StreamKind int

const (
	Playback StreamKind = iota
	Recording
)

func (k StreamKind) String() string {
	switch k {
	case Playback:
		return "playback"
	case Recording:
		return "recording"
	}
	return "unknown"
}

// StreamRecord is a snapshot of one live client stream. IDs are only valid
// for the query that produced them; compare records by Name.
type StreamRecord struct {
	Kind   StreamKind
	ID     pulseid.Index
	Device pulseid.Index // sink for playback, source for recording
	Name   string
	PID    int
	Binary string
}

// SameTarget reports whether two records name the same application
func (r StreamRecord) SameTarget(other StreamRecord) bool {
	return r.Kind == other.Kind && r.Name == other.Name
}
