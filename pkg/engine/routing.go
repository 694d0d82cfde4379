package engine

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/dukex/operion-engine/pkg/eventbus"
	"github.com/dukex/operion-engine/pkg/events"
	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/nodes/condition"
)

// Traversable reports whether edge may be followed given its source's output.
// Edges leaving a condition node must carry the matching condition, the
// unconditioned ones are dropped.
func Traversable(source *models.WorkflowNode, edge *models.Edge, output map[string]any) bool {
	result := strconv.FormatBool(condition.Truthy(output[condition.ResultKey]))

	if source != nil && source.Type == condition.NodeType {
		return edge.HasCondition() && edge.Condition == result
	}

	if edge.HasCondition() {
		return edge.Condition == result
	}

	return true
}

// sourcesCompleted is the join rule: a node runs once every node with an edge
// into it has completed.
func sourcesCompleted(workflow *models.Workflow, st *models.ExecutionState, nodeID string) bool {
	for _, edge := range workflow.IncomingEdges(nodeID) {
		if !st.IsCompleted(edge.Source) {
			return false
		}
	}

	return true
}

// executableTargets lists the not yet completed children of nodeID that are
// reachable and ready.
func executableTargets(workflow *models.Workflow, st *models.ExecutionState, nodeID string, output map[string]any) []string {
	source, _ := workflow.Node(nodeID)
	targets := make([]string, 0)
	seen := make(map[string]struct{})

	for _, edge := range workflow.OutgoingEdges(nodeID) {
		if !Traversable(source, edge, output) {
			continue
		}

		if _, dup := seen[edge.Target]; dup {
			continue
		}

		seen[edge.Target] = struct{}{}

		if st.IsCompleted(edge.Target) || !sourcesCompleted(workflow, st, edge.Target) {
			continue
		}

		targets = append(targets, edge.Target)
	}

	return targets
}

// NextNodes returns the children of nodeID to run now. st must already record
// nodeID as completed. Each child gets the union of every step output.
func NextNodes(workflow *models.Workflow, st *models.ExecutionState, nodeID string, output map[string]any) []events.NextNode {
	targets := executableTargets(workflow, st, nodeID, output)
	next := make([]events.NextNode, 0, len(targets))

	if len(targets) == 0 {
		return next
	}

	input := st.MergedOutputs()

	for _, target := range targets {
		next = append(next, events.NextNode{
			NodeID:     target,
			WorkflowID: workflow.ID,
			Input:      maps.Clone(input),
		})
	}

	return next
}

// EnqueueNodes schedules one node job per entry under its deterministic id.
func EnqueueNodes(ctx context.Context, queue eventbus.Enqueuer, executionID string, next []events.NextNode) error {
	for _, node := range next {
		job := &events.NodeExecution{
			ExecutionID: executionID,
			NodeID:      node.NodeID,
			WorkflowID:  node.WorkflowID,
			Input:       node.Input,
			Attempt:     1,
		}

		_, err := queue.Enqueue(ctx, job, eventbus.EnqueueOptions{
			JobID: events.NodeJobID(executionID, node.NodeID),
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue node %s: %w", node.NodeID, err)
		}
	}

	return nil
}

// IsWorkflowComplete reports whether nothing is left to run: no node is
// active, every root ran and no completed node has an executable edge left.
func IsWorkflowComplete(workflow *models.Workflow, st *models.ExecutionState) bool {
	if len(st.ActiveNodes) > 0 {
		return false
	}

	for _, root := range workflow.RootNodes() {
		if !st.IsCompleted(root.ID) {
			return false
		}
	}

	for _, nodeID := range st.CompletedNodes {
		step, _ := st.Step(nodeID)

		if len(executableTargets(workflow, st, nodeID, step.Output)) > 0 {
			return false
		}
	}

	return true
}
