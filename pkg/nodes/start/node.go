package start

import (
	"context"
	"maps"

	"github.com/dukex/operion-engine/pkg/protocol"
)

// StartNode passes its input through.
type StartNode struct {
	id string
}

func NewStartNode(id string) *StartNode {
	return &StartNode{id: id}
}

func (n *StartNode) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	output := make(map[string]any, len(req.Input))
	maps.Copy(output, req.Input)

	return protocol.Success(output), nil
}
