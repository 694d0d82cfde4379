package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/dukex/operion-engine/pkg/template"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogNode logs a rendered message.
type LogNode struct {
	id      string
	message string
	level   string
	logger  *slog.Logger
}

func NewLogNode(id string, config map[string]any, logger *slog.Logger) (*LogNode, error) {
	message, ok := config["message"].(string)
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	level := "info"
	if lvl, ok := config["level"].(string); ok {
		if _, known := levels[lvl]; !known {
			return nil, fmt.Errorf("unknown log level '%s'", lvl)
		}

		level = lvl
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &LogNode{
		id:      id,
		message: message,
		level:   level,
		logger:  logger,
	}, nil
}

func (n *LogNode) Execute(ctx context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	rendered, err := template.RenderWithContext(n.message, req)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to render log message template: %w", err)
	}

	message := fmt.Sprintf("%v", rendered)

	n.logger.Log(ctx, levels[n.level], message,
		"node_id", n.id,
		"node_type", NodeType,
		"execution_id", req.Context.ExecutionID,
		"workflow_id", req.Context.WorkflowID,
	)

	return protocol.Success(map[string]any{
		"message": message,
		"level":   n.level,
		"logged":  true,
	}), nil
}
