// Package form provides a node that suspends a run until a client submits
// data through a resume.
package form

import (
	"context"

	"github.com/dukex/operion-engine/pkg/protocol"
)

const NodeType = "form"

// FormNodeFactory creates FormNode instances.
type FormNodeFactory struct{}

//nolint:ireturn // factories return the node contract
func (f *FormNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewFormNode(id, config)
}

func (f *FormNodeFactory) ID() string {
	return NodeType
}

func (f *FormNodeFactory) Name() string {
	return "Form"
}

func (f *FormNodeFactory) Description() string {
	return "Suspends the execution until the form is submitted through a resume call."
}

func (f *FormNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Form title shown to the user. Supports templating",
			},
			"fields": map[string]any{
				"type":        "array",
				"description": "Fields the client is expected to submit",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":     map[string]any{"type": "string"},
						"label":    map[string]any{"type": "string"},
						"type":     map[string]any{"type": "string", "default": "text"},
						"required": map[string]any{"type": "boolean", "default": false},
					},
					"required": []string{"name"},
				},
			},
		},
		"required": []string{"fields"},
	}
}

// NewFormNodeFactory creates a new factory instance.
//
//nolint:ireturn // registry works with the factory contract
func NewFormNodeFactory() protocol.NodeFactory {
	return &FormNodeFactory{}
}
