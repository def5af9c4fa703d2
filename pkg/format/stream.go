package format

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/soundux/soundux-routing/routershim"
)

// Stream formats a stream record for a one-line listing
// Example: "#42 Firefox (pid 1234, firefox) on 0"
func Stream(rec routershim.StreamRecord) string {
	name := rec.Name
	if name == "" {
		name = "<unnamed>"
	}

	details := []string{}
	if rec.PID > 0 {
		details = append(details, fmt.Sprintf("pid %d", rec.PID))
	}
	if rec.Binary != "" {
		details = append(details, filepath.Base(rec.Binary))
	}

	result := fmt.Sprintf("#%s %s", rec.ID, name)
	if len(details) > 0 {
		result = result + " (" + strings.Join(details, ", ") + ")"
	}
	return result + " on " + rec.Device.String()
}

// Streams formats a listing, one stream per line, with a header naming the kind
func Streams(kind routershim.StreamKind, recs []routershim.StreamRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s stream(s)\n", len(recs), kind)
	for _, rec := range recs {
		b.WriteString("  ")
		b.WriteString(Stream(rec))
		b.WriteString("\n")
	}
	return b.String()
}
