// Package start provides the entry node of a workflow.
package start

import (
	"context"

	"github.com/dukex/operion-engine/pkg/protocol"
)

const NodeType = "start"

// StartNodeFactory creates StartNode instances.
type StartNodeFactory struct{}

//nolint:ireturn // factories return the node contract
func (f *StartNodeFactory) Create(_ context.Context, id string, _ map[string]any) (protocol.Node, error) {
	return NewStartNode(id), nil
}

func (f *StartNodeFactory) ID() string {
	return NodeType
}

func (f *StartNodeFactory) Name() string {
	return "Start"
}

func (f *StartNodeFactory) Description() string {
	return "Entry point of a workflow. Emits the run input unchanged."
}

func (f *StartNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// NewStartNodeFactory creates a new factory instance.
//
//nolint:ireturn // registry works with the factory contract
func NewStartNodeFactory() protocol.NodeFactory {
	return &StartNodeFactory{}
}
