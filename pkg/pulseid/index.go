package pulseid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jfreymuth/pulse/proto"
)

// Index is a server-assigned object index (module, sink, source, sink
// input or source output).
type Index uint32

// Undefined is the index the server uses for "no object".
const Undefined = Index(proto.Undefined)

// String returns the index in the decimal form pactl prints
func (i Index) String() string {
	if i == Undefined {
		return "undefined"
	}
	return strconv.FormatUint(uint64(i), 10)
}

// IsValid reports whether the index names an object. The server signals a
// failed module load with an index that is negative when read as int32.
func (i Index) IsValid() bool {
	return i != Undefined && int32(i) >= 0
}

// Uint32 returns the raw wire value
func (i Index) Uint32() uint32 {
	return uint32(i)
}

// ParseIndex parses a decimal index, optionally prefixed with '#'
func ParseIndex(s string) (Index, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Undefined, fmt.Errorf("invalid index %q: %w", s, err)
	}
	return Index(id), nil
}
