package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/robfig/cron/v3"
)

var ErrInvalidWaitConfig = errors.New("wait node requires either 'duration' or 'cron'")

// WaitNode suspends the run with a resume-after request.
type WaitNode struct {
	id       string
	duration float64
	unit     string
	schedule cron.Schedule
	now      func() time.Time
}

func NewWaitNode(id string, config map[string]any) (*WaitNode, error) {
	node := &WaitNode{
		id:   id,
		unit: "seconds",
		now:  time.Now,
	}

	if expr, ok := config["cron"].(string); ok && expr != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

		schedule, err := parser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression '%s': %w", expr, err)
		}

		node.schedule = schedule

		return node, nil
	}

	switch duration := config["duration"].(type) {
	case float64:
		node.duration = duration
	case int:
		node.duration = float64(duration)
	default:
		return nil, ErrInvalidWaitConfig
	}

	if node.duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", node.duration)
	}

	if unit, ok := config["unit"].(string); ok && unit != "" {
		node.unit = unit
	}

	return node, nil
}

func (n *WaitNode) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	output := map[string]any{
		"input": req.Input,
	}

	if n.schedule != nil {
		now := n.now()
		next := n.schedule.Next(now)
		output["until"] = next.UTC().Format(time.RFC3339)

		return protocol.SuspendedFor(float64(next.Sub(now).Milliseconds()), "ms", output), nil
	}

	return protocol.SuspendedFor(n.duration, n.unit, output), nil
}
