// Package transform provides a node that reshapes data with a template.
package transform

import (
	"context"

	"github.com/dukex/operion-engine/pkg/protocol"
)

const NodeType = "transform"

// TransformNodeFactory creates TransformNode instances.
type TransformNodeFactory struct{}

//nolint:ireturn // factories return the node contract
func (f *TransformNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewTransformNode(id, config)
}

func (f *TransformNodeFactory) ID() string {
	return NodeType
}

func (f *TransformNodeFactory) Name() string {
	return "Transform"
}

func (f *TransformNodeFactory) Description() string {
	return "Renders an expression against the input and prior results"
}

func (f *TransformNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Go template rendered to produce the result. JSON output is decoded",
				"examples": []string{
					`{"email": "{{ .input.email }}", "score": {{ (index .results "score").data.value }}}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

// NewTransformNodeFactory creates a new factory instance.
//
//nolint:ireturn // registry works with the factory contract
func NewTransformNodeFactory() protocol.NodeFactory {
	return &TransformNodeFactory{}
}
