// Package template renders node configuration strings against a run.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/operion-engine/pkg/protocol"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(limit int) int {
		if limit <= 0 {
			return 0
		}

		num := make([]byte, 1)
		if _, err := rand.Read(num); err != nil {
			return 0
		}

		return int(num[0]) % limit
	},
	"json": func(value any) (string, error) {
		data, err := json.Marshal(value)

		return string(data), err
	},
}

// Data exposes the node input, prior results and run variables to templates:
// .input, (index .results nodeID).data, .variables (alias .vars), .execution
// and .env.
func Data(req protocol.ExecuteRequest) map[string]any {
	results := make(map[string]any, len(req.Context.Results))
	for nodeID, result := range req.Context.Results {
		results[nodeID] = map[string]any{
			"status": string(result.Status),
			"data":   result.Data,
			"error":  result.Error,
		}
	}

	return map[string]any{
		"input":     req.Input,
		"results":   results,
		"variables": req.Context.Variables,
		"vars":      req.Context.Variables,
		"env":       getEnvVars(),
		"execution": map[string]any{
			"id":          req.Context.ExecutionID,
			"workflow_id": req.Context.WorkflowID,
		},
	}
}

func RenderWithContext(input string, req protocol.ExecuteRequest) (any, error) {
	return Render(input, Data(req))
}

// Render executes templateStr and coerces the output into JSON, a number, a
// boolean or, failing those, a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.New("node").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return coerce(templateStr, strings.TrimSpace(buf.String()))
}

func coerce(templateStr, rendered string) (any, error) {
	if (strings.HasPrefix(rendered, "{") && strings.HasSuffix(rendered, "}")) ||
		(strings.HasPrefix(rendered, "[") && strings.HasSuffix(rendered, "]")) {
		var decoded any
		if err := json.Unmarshal([]byte(rendered), &decoded); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return decoded, nil
	}

	if num, err := strconv.ParseFloat(rendered, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(rendered); err == nil {
		return b, nil
	}

	return rendered, nil
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if ok {
			envMap[key] = value
		}
	}

	return envMap
}
