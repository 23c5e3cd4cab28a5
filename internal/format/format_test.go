package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSize(t *testing.T) {
	tests := []struct {
		name     string
		input    uint64
		expected string
	}{
		{"zero", 0, "0B"},
		{"bytes", 512, "512 B"},
		{"one KB", 1024, "1 KB"},
		{"fractional KB", 1536, "1.5 KB"},
		{"one MB", 1048576, "1 MB"},
		{"just under one MB", 1048575, "1 MB"},
		{"just under one KB", 1023, "1023 B"},
		{"rounded", 1288490189, "1.2 GB"},
		{"four GiB", 4294967296, "4 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Size(tt.input))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "00:00:45"},
		{"hour minute second", 3665 * time.Second, "01:01:05"},
		{"zero", 0, "00:00:00"},
		{"negative", -5 * time.Second, "00:00:00"},
		{"sub-second truncated", 1500 * time.Millisecond, "00:00:01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Duration(tt.input))
		})
	}
}

func TestBar(t *testing.T) {
	bar := Bar(50, 100)
	assert.Equal(t, 10, strings.Count(bar, barFilled))
	assert.Equal(t, 10, strings.Count(bar, barEmpty))
	assert.True(t, strings.HasSuffix(bar, "50.00%"))

	assert.True(t, strings.HasSuffix(Bar(5, 0), "0.00%"))
	assert.Equal(t, barWidth, strings.Count(Bar(200, 100), barFilled))
}
