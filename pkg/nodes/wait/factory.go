// Package wait provides a node that pauses a run for a fixed delay or until
// the next tick of a cron expression.
package wait

import (
	"context"

	"github.com/dukex/operion-engine/pkg/protocol"
)

const NodeType = "wait"

// WaitNodeFactory creates WaitNode instances.
type WaitNodeFactory struct{}

//nolint:ireturn // factories return the node contract
func (f *WaitNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewWaitNode(id, config)
}

func (f *WaitNodeFactory) ID() string {
	return NodeType
}

func (f *WaitNodeFactory) Name() string {
	return "Wait"
}

func (f *WaitNodeFactory) Description() string {
	return "Suspends the execution and resumes it automatically after a delay or at the next cron tick."
}

func (f *WaitNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "number",
				"description": "How long to wait",
				"minimum":     0,
			},
			"unit": map[string]any{
				"type":        "string",
				"description": "Unit of duration",
				"default":     "seconds",
				"enum": []string{
					"ms", "milliseconds",
					"s", "seconds",
					"m", "minutes",
					"h", "hours",
					"d", "days",
				},
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Wait until the next tick of a 5-field cron expression",
				"examples":    []string{"0 9 * * *", "*/15 * * * *"},
			},
		},
		"oneOf": []any{
			map[string]any{"required": []string{"duration"}},
			map[string]any{"required": []string{"cron"}},
		},
	}
}

// NewWaitNodeFactory creates a new factory instance.
//
//nolint:ireturn // registry works with the factory contract
func NewWaitNodeFactory() protocol.NodeFactory {
	return &WaitNodeFactory{}
}
