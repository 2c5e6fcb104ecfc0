// Package format renders sizes and durations for human-facing output.
package format

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
)

// Duration formats a duration as HH:MM:SS or MM:SS.
func Duration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// KiB returns bytes / 1024.
func KiB(bytes int64) float64 {
	if bytes < 0 {
		return 0
	}
	return datasize.ByteSize(bytes).KBytes()
}

// SizeKB formats a size in KiB with one decimal, e.g. "12.3 KB".
// Used by export summaries, which always report KB.
func SizeKB(bytes int64) string {
	return fmt.Sprintf("%.1f KB", KiB(bytes))
}

// Size formats a size in bytes for human display.
// Uses MB for sizes >= 1MB, KB for sizes >= 1KB, bytes otherwise.
func Size(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	s := datasize.ByteSize(bytes)
	switch {
	case s >= datasize.MB:
		return fmt.Sprintf("%.1f MB", s.MBytes())
	case s >= datasize.KB:
		return fmt.Sprintf("%.1f KB", s.KBytes())
	}
	return fmt.Sprintf("%d bytes", bytes)
}
