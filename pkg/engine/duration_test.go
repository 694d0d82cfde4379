package engine

import (
	"testing"
	"time"

	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestDurationMillis(t *testing.T) {
	tests := []struct {
		duration float64
		unit     string
		want     int64
	}{
		{250, "ms", 250},
		{3, "milliseconds", 3},
		{2, "seconds", 2000},
		{2, "", 2000},
		{2, "fortnights", 2000},
		{1.5, "m", 90000},
		{1, "Minutes", 60000},
		{2, "h", 7200000},
		{1, "day", 86400000},
		{-5, "s", 0},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			assert.Equal(t, tt.want, DurationMillis(tt.duration, tt.unit))
		})
	}
}

func TestResumeDelay(t *testing.T) {
	delay, ok := ResumeDelay(protocol.SuspendedFor(5, "minutes", nil).Output)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, delay)

	delay, ok = ResumeDelay(map[string]any{
		protocol.ResumeAfterKey: map[string]any{"duration": "30", "unit": "s"},
	})
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)

	_, ok = ResumeDelay(protocol.Suspended(map[string]any{"form": map[string]any{}}).Output)
	assert.False(t, ok)

	_, ok = ResumeDelay(map[string]any{protocol.ResumeAfterKey: map[string]any{"unit": "s"}})
	assert.False(t, ok)
}
