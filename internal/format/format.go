// Package format renders byte sizes, durations and progress bars for chat messages.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var units = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// Size renders a byte count with 1024-based units, rounded to two decimals.
// Zero renders as "0B".
func Size(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}

	value := float64(bytes)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	value = math.Round(value*100) / 100
	// 1023.999 KB rounds up to 1024 KB, which reads as 1 MB
	if value >= 1024 && i < len(units)-1 {
		value = math.Round(value/1024*100) / 100
		i++
	}

	return strconv.FormatFloat(value, 'f', -1, 64) + " " + units[i]
}

// Duration renders whole seconds as HH:MM:SS. Negative values render as zero.
func Duration(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}

	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

const (
	barWidth  = 20
	barFilled = "█"
	barEmpty  = "░"
)

// Bar renders a fixed-width progress bar followed by the percentage
func Bar(done, total uint64) string {
	pct := Percent(done, total)
	filled := int(pct / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}

	return fmt.Sprintf("[%s%s] %.2f%%",
		strings.Repeat(barFilled, filled),
		strings.Repeat(barEmpty, barWidth-filled),
		pct,
	)
}

// Percent returns done/total as 0..100, or 0 when total is unknown
func Percent(done, total uint64) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
