package core

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/trikhub/gateway/internal/gateway/manifest"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// selectTemplate picks the responseTemplates entry to render, following the
// convention order: an explicit "template" field in agentData, else
// "success" if present, else the single entry if there is exactly one,
// else an error.
func selectTemplate(action manifest.Action, agentData json.RawMessage) (string, error) {
	var probe struct {
		Template string `json:"template"`
	}
	_ = json.Unmarshal(agentData, &probe)
	if probe.Template != "" {
		if _, ok := action.ResponseTemplates[probe.Template]; !ok {
			return "", fmt.Errorf("core: agentData selects unknown template %q", probe.Template)
		}
		return probe.Template, nil
	}
	if _, ok := action.ResponseTemplates["success"]; ok {
		return "success", nil
	}
	if len(action.ResponseTemplates) == 1 {
		for name := range action.ResponseTemplates {
			return name, nil
		}
	}
	return "", fmt.Errorf("core: no template selected by convention and none is unambiguous")
}

// renderTemplate substitutes every {{name}} placeholder in text with
// String(agentData[name]); a placeholder whose field is absent from
// agentData is left in place literally rather than substituted or erased.
func renderTemplate(text string, agentData json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(agentData, &fields); err != nil {
		return "", fmt.Errorf("core: decode agentData for template rendering: %w", err)
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		raw, ok := fields[name]
		if !ok {
			return m
		}
		return stringifyField(raw)
	}), nil
}

// stringifyField renders a decoded JSON value the way a template expects
// String(value) to: unquoted for strings, Go's default formatting otherwise.
func stringifyField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
