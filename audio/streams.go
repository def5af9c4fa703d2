package audio

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog"

	"github.com/soundux/soundux-routing/errutil"
	"github.com/soundux/soundux-routing/logging"
	"github.com/soundux/soundux-routing/pkg/pulseid"
	"github.com/soundux/soundux-routing/routershim"
)

const (
	// nativeDriver identifies streams from real clients, as opposed to
	// those created by the server's compatibility layers.
	nativeDriver = "protocol-native.c"
	// peaksResampler marks passive level-meter recorders such as volume
	// control applets.
	peaksResampler = "peaks"

	propAppName   = "application.name"
	propAppPID    = "application.process.id"
	propAppBinary = "application.process.binary"
)

// Directory enumerates live client streams
type Directory struct {
	conn   *Conn
	logger *zerolog.Logger
}

func NewDirectory(conn *Conn) *Directory {
	return &Directory{
		conn:   conn,
		logger: logging.GetSubsystemLogger("streams"),
	}
}

// Snapshot holds the streams seen at one point in time
type Snapshot struct {
	Playback  []routershim.StreamRecord
	Recording []routershim.StreamRecord
}

// Playback lists sink inputs of native clients, in server order
func (d *Directory) Playback(ctx context.Context) ([]routershim.StreamRecord, error) {
	var reply proto.GetSinkInputInfoListReply
	if err := d.conn.Await(ctx, &proto.GetSinkInputInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("failed to get sink input list: %w", err)
	}
	streams := []routershim.StreamRecord{}
	for _, info := range reply {
		if info == nil || info.Driver != nativeDriver {
			continue
		}
		streams = append(streams, d.record(routershim.Playback, info.SinkInputIndex, info.SinkIndex, info.Properties))
	}
	return streams, nil
}

// Recording lists source outputs of native clients, skipping peak meters
func (d *Directory) Recording(ctx context.Context) ([]routershim.StreamRecord, error) {
	var reply proto.GetSourceOutputInfoListReply
	if err := d.conn.Await(ctx, &proto.GetSourceOutputInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("failed to get source output list: %w", err)
	}
	streams := []routershim.StreamRecord{}
	for _, info := range reply {
		if info == nil || info.Driver != nativeDriver || info.ResampleMethod == peaksResampler {
			continue
		}
		streams = append(streams, d.record(routershim.Recording, info.SourceOutpuIndex, info.SourceIndex, info.Properties))
	}
	return streams, nil
}

// Snapshot lists both kinds
func (d *Directory) Snapshot(ctx context.Context) (Snapshot, error) {
	playback, err := d.Playback(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	recording, err := d.Recording(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Playback: playback, Recording: recording}, nil
}

// FindPlayback returns the first playback stream with the given name
func (d *Directory) FindPlayback(ctx context.Context, name string) (routershim.StreamRecord, bool, error) {
	streams, err := d.Playback(ctx)
	if err != nil {
		return routershim.StreamRecord{}, false, err
	}
	return findByName(streams, name)
}

// FindRecording returns the first recording stream with the given name
func (d *Directory) FindRecording(ctx context.Context, name string) (routershim.StreamRecord, bool, error) {
	streams, err := d.Recording(ctx)
	if err != nil {
		return routershim.StreamRecord{}, false, err
	}
	return findByName(streams, name)
}

func findByName(streams []routershim.StreamRecord, name string) (routershim.StreamRecord, bool, error) {
	for _, s := range streams {
		if s.Name == name {
			return s, true, nil
		}
	}
	return routershim.StreamRecord{}, false, nil
}

func (d *Directory) record(kind routershim.StreamKind, id, device uint32, props proto.PropList) routershim.StreamRecord {
	rec := routershim.StreamRecord{
		Kind:   kind,
		ID:     pulseid.Index(id),
		Device: pulseid.Index(device),
		Name:   prop(props, propAppName),
		Binary: prop(props, propAppBinary),
	}
	if pid := prop(props, propAppPID); pid != "" {
		rec.PID = errutil.MustParseInt(d.logger, pid, propAppPID)
	}
	return rec
}

func prop(props proto.PropList, key string) string {
	if v, ok := props[key]; ok {
		return v.String()
	}
	return ""
}
