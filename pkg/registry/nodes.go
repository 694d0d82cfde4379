package registry

import (
	"log/slog"

	"github.com/dukex/operion-engine/pkg/nodes/condition"
	"github.com/dukex/operion-engine/pkg/nodes/form"
	"github.com/dukex/operion-engine/pkg/nodes/httprequest"
	"github.com/dukex/operion-engine/pkg/nodes/log"
	"github.com/dukex/operion-engine/pkg/nodes/merge"
	"github.com/dukex/operion-engine/pkg/nodes/start"
	"github.com/dukex/operion-engine/pkg/nodes/transform"
	"github.com/dukex/operion-engine/pkg/nodes/wait"
)

// RegisterDefaultNodes registers all built-in node factories. The log node
// writes to logger.
func (r *Registry) RegisterDefaultNodes(logger *slog.Logger) {
	r.RegisterNode(start.NewStartNodeFactory())
	r.RegisterNode(condition.NewConditionNodeFactory())

	// Nodes that suspend the run
	r.RegisterNode(wait.NewWaitNodeFactory())
	r.RegisterNode(form.NewFormNodeFactory())

	r.RegisterNode(merge.NewMergeNodeFactory())
	r.RegisterNode(log.NewLogNodeFactory(logger))
	r.RegisterNode(transform.NewTransformNodeFactory())
	r.RegisterNode(httprequest.NewHTTPRequestNodeFactory())
}
