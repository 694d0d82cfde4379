package merge

import (
	"context"
	"maps"
	"slices"

	"github.com/dukex/operion-engine/pkg/protocol"
)

// MergeNode combines the results of the nodes feeding into it.
type MergeNode struct {
	id      string
	flatten bool
}

func NewMergeNode(id string, config map[string]any) *MergeNode {
	flatten, _ := config["flatten"].(bool)

	return &MergeNode{
		id:      id,
		flatten: flatten,
	}
}

// Execute reads its own incoming edges from the execution context, so the
// sources are whatever the graph says they are.
func (n *MergeNode) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	nodeID := n.id
	if req.Node != nil {
		nodeID = req.Node.ID
	}

	sources := make([]string, 0)
	for _, edge := range req.Context.IncomingEdges(nodeID) {
		if !slices.Contains(sources, edge.Source) {
			sources = append(sources, edge.Source)
		}
	}

	slices.Sort(sources)

	merged := make(map[string]any, len(sources))
	output := make(map[string]any)
	available := make([]any, 0, len(sources))

	for _, source := range sources {
		result, ok := req.Context.Results[source]
		if !ok {
			continue
		}

		merged[source] = result.Data
		available = append(available, source)

		if n.flatten {
			maps.Copy(output, result.Data)
		}
	}

	output["merged"] = merged
	output["sources"] = available

	return protocol.Success(output), nil
}
