package condition

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/dukex/operion-engine/pkg/template"
)

// ResultKey holds the boolean outcome in the node output.
const ResultKey = "result"

// ConditionNode evaluates a templated expression to a boolean.
type ConditionNode struct {
	id        string
	condition string
}

func NewConditionNode(id string, config map[string]any) (*ConditionNode, error) {
	var condition string

	switch value := config["condition"].(type) {
	case string:
		condition = value
	case bool:
		condition = strconv.FormatBool(value)
	default:
		return nil, errors.New("missing required field 'condition'")
	}

	return &ConditionNode{
		id:        id,
		condition: condition,
	}, nil
}

func (n *ConditionNode) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	evaluated, err := template.RenderWithContext(n.condition, req)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("condition evaluation failed: %w", err)
	}

	return protocol.Success(map[string]any{
		ResultKey:         Truthy(evaluated),
		"evaluated_value": evaluated,
	}), nil
}

// Truthy converts a rendered value to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		// Non-empty strings are truthy
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}
