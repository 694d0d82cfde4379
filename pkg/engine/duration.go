package engine

import (
	"strconv"
	"strings"
	"time"

	"github.com/dukex/operion-engine/pkg/protocol"
)

// DurationMillis converts a wait duration to milliseconds. Unknown units are
// read as seconds.
func DurationMillis(duration float64, unit string) int64 {
	var factor float64

	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "ms", "millisecond", "milliseconds":
		factor = 1
	case "m", "min", "mins", "minute", "minutes":
		factor = float64(time.Minute / time.Millisecond)
	case "h", "hr", "hrs", "hour", "hours":
		factor = float64(time.Hour / time.Millisecond)
	case "d", "day", "days":
		factor = float64(24 * time.Hour / time.Millisecond)
	default:
		factor = float64(time.Second / time.Millisecond)
	}

	millis := int64(duration * factor)
	if millis < 0 {
		return 0
	}

	return millis
}

// ResumeDelay reads the resume-after request of a suspended result. ok is false
// when the output asks to wait for input instead.
func ResumeDelay(output map[string]any) (time.Duration, bool) {
	raw, ok := output[protocol.ResumeAfterKey].(map[string]any)
	if !ok {
		return 0, false
	}

	duration, ok := number(raw["duration"])
	if !ok {
		return 0, false
	}

	unit, _ := raw["unit"].(string)

	return time.Duration(DurationMillis(duration, unit)) * time.Millisecond, true
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
