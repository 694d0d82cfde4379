package form

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/dukex/operion-engine/pkg/template"
)

// Field describes one value the client is expected to submit.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// FormNode suspends the run waiting for a submission.
type FormNode struct {
	id     string
	title  string
	fields []Field
}

func NewFormNode(id string, config map[string]any) (*FormNode, error) {
	rawFields, ok := config["fields"].([]any)
	if !ok {
		return nil, errors.New("missing required field 'fields'")
	}

	fields := make([]Field, 0, len(rawFields))

	for i, raw := range rawFields {
		fieldConfig, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %d must be an object", i)
		}

		name, _ := fieldConfig["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("field %d is missing 'name'", i)
		}

		field := Field{Name: name, Label: name, Type: "text"}

		if label, ok := fieldConfig["label"].(string); ok && label != "" {
			field.Label = label
		}

		if fieldType, ok := fieldConfig["type"].(string); ok && fieldType != "" {
			field.Type = fieldType
		}

		if required, ok := fieldConfig["required"].(bool); ok {
			field.Required = required
		}

		fields = append(fields, field)
	}

	title, _ := config["title"].(string)

	return &FormNode{
		id:     id,
		title:  title,
		fields: fields,
	}, nil
}

func (n *FormNode) Execute(_ context.Context, req protocol.ExecuteRequest) (protocol.Result, error) {
	title := n.title

	if title != "" {
		rendered, err := template.RenderWithContext(title, req)
		if err != nil {
			return protocol.Result{}, fmt.Errorf("failed to render form title: %w", err)
		}

		title = fmt.Sprintf("%v", rendered)
	}

	fields := make([]any, 0, len(n.fields))
	for _, field := range n.fields {
		fields = append(fields, map[string]any{
			"name":     field.Name,
			"label":    field.Label,
			"type":     field.Type,
			"required": field.Required,
		})
	}

	return protocol.Suspended(map[string]any{
		"form": map[string]any{
			"title":  title,
			"fields": fields,
		},
		"input": req.Input,
	}), nil
}
