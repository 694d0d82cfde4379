package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/dukex/operion-engine/pkg/template"
)

// TransformNode renders its expression and exposes it as "result".
type TransformNode struct {
	id         string
	expression string
}

func NewTransformNode(id string, config map[string]any) (*TransformNode, error) {
	expression, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	return &TransformNode{
		id:         id,
		expression: expression,
	}, nil
}

// Execute reports template errors as a failed result.
func (n *TransformNode) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	result, err := template.RenderWithContext(n.expression, req)
	if err != nil {
		return protocol.Failed(fmt.Sprintf("transformation failed: %v", err)), nil
	}

	return protocol.Success(map[string]any{
		"result": result,
	}), nil
}
