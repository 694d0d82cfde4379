// Package log provides a node that writes a templated message to the worker log.
package log

import (
	"context"
	"log/slog"

	"github.com/dukex/operion-engine/pkg/protocol"
)

const NodeType = "log"

// LogNodeFactory creates LogNode instances writing to its logger.
type LogNodeFactory struct {
	logger *slog.Logger
}

//nolint:ireturn // factories return the node contract
func (f *LogNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewLogNode(id, config, f.logger)
}

func (f *LogNodeFactory) ID() string {
	return NodeType
}

func (f *LogNodeFactory) Name() string {
	return "Log"
}

func (f *LogNodeFactory) Description() string {
	return "Writes a message to the worker log"
}

func (f *LogNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating",
				"examples":    []string{"New lead {{ .input.email }}"},
			},
			"level": map[string]any{
				"type":    "string",
				"default": "info",
				"enum":    []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}

// NewLogNodeFactory creates a new factory instance. A nil logger falls back to
// slog.Default.
//
//nolint:ireturn // registry works with the factory contract
func NewLogNodeFactory(logger *slog.Logger) protocol.NodeFactory {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogNodeFactory{logger: logger}
}
