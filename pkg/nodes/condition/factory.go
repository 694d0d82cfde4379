// Package condition provides the boolean routing node.
package condition

import (
	"context"

	"github.com/dukex/operion-engine/pkg/protocol"
)

// NodeType is the type name the engine routes on: only edges whose condition
// equals this node's result are followed.
const NodeType = "condition"

// ConditionNodeFactory creates ConditionNode instances.
type ConditionNodeFactory struct{}

// Create creates a new ConditionNode instance.
//
//nolint:ireturn // factories return the node contract
func (f *ConditionNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewConditionNode(id, config)
}

// ID returns the factory ID.
func (f *ConditionNodeFactory) ID() string {
	return NodeType
}

// Name returns the factory name.
func (f *ConditionNodeFactory) Name() string {
	return "Condition"
}

// Description returns the factory description.
func (f *ConditionNodeFactory) Description() string {
	return "Evaluates a condition and routes execution to the true or false branch."
}

// Schema returns the JSON schema for Condition node configuration.
func (f *ConditionNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        []string{"string", "boolean"},
				"description": "Condition expression to evaluate. Supports templating; non-empty strings and non-zero numbers are truthy.",
				"examples": []string{
					`{{ eq .input.utm_source "ppc" }}`,
					`{{ gt (index .results "score").data.value 75 }}`,
					`true`,
				},
			},
		},
		"required": []string{"condition"},
	}
}

// NewConditionNodeFactory creates a new factory instance.
//
//nolint:ireturn // registry works with the factory contract
func NewConditionNodeFactory() protocol.NodeFactory {
	return &ConditionNodeFactory{}
}
