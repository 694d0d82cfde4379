// Package merge provides the node that joins parallel branches.
package merge

import (
	"context"

	"github.com/dukex/operion-engine/pkg/protocol"
)

const NodeType = "merge"

// MergeNodeFactory creates MergeNode instances.
type MergeNodeFactory struct{}

//nolint:ireturn // factories return the node contract
func (f *MergeNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewMergeNode(id, config), nil
}

func (f *MergeNodeFactory) ID() string {
	return NodeType
}

func (f *MergeNodeFactory) Name() string {
	return "Merge"
}

func (f *MergeNodeFactory) Description() string {
	return "Joins parallel branches. Runs once every incoming source has completed and combines their outputs."
}

func (f *MergeNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"flatten": map[string]any{
				"type":        "boolean",
				"description": "Also merge every source output into the top level, later sources winning",
				"default":     false,
			},
		},
	}
}

// NewMergeNodeFactory creates a new factory instance.
//
//nolint:ireturn // registry works with the factory contract
func NewMergeNodeFactory() protocol.NodeFactory {
	return &MergeNodeFactory{}
}
