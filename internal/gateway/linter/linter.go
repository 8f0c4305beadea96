// Package linter statically audits an installed or unpacked trik package,
// without ever loading it into a running gateway. It is a pure function of
// its inputs: given a directory, it returns a list of diagnostics and
// performs no network I/O, mirroring the teacher's policy engine's
// decision-by-rule shape (first each rule is evaluated independently here,
// rather than first-match-wins, since a lint pass wants every violation
// reported, not just the first).
package linter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trikhub/gateway/internal/gateway/manifest"
)

// Severity classifies a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic locates a single lint finding.
type Diagnostic struct {
	Rule     string
	Severity Severity
	Message  string
	File     string
	Line     int // 0 when not applicable
	Column   int // 0 when not applicable
}

func (d Diagnostic) String() string {
	loc := d.File
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, d.Line)
	}
	return fmt.Sprintf("%s [%s/%s] %s", loc, d.Rule, d.Severity, d.Message)
}

// Options configures a Lint run.
type Options struct {
	// WarningsAsErrors promotes every warning-severity diagnostic to error
	// severity in the returned list; it does not change which rules run.
	WarningsAsErrors bool
	// Skip names rules to omit from the result entirely.
	Skip []string
	// CheckEntryPoint enables entry-point-exists, which asserts the
	// manifest's declared entry artifact is present on disk — the mode
	// a publish step wants but a pre-build lint pass does not.
	CheckEntryPoint bool
}

func (o Options) skips(rule string) bool {
	for _, s := range o.Skip {
		if s == rule {
			return true
		}
	}
	return false
}

// highExecutionTimeMs flags a maxExecutionTimeMs above this as unusually
// high; a trik declaring minutes-long invocations is almost always
// misconfigured rather than intentional.
const highExecutionTimeMs = 5 * 60 * 1000

// Lint audits the trik package rooted at dir and returns every diagnostic
// found, in rule order. It never exits the process and never mutates dir.
func Lint(dir string, opts Options) ([]Diagnostic, error) {
	manifestDir, manifestPath, err := locateManifest(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("linter: read manifest: %w", err)
	}

	var diags []Diagnostic
	add := func(d Diagnostic) {
		if opts.skips(d.Rule) {
			return
		}
		if opts.WarningsAsErrors && d.Severity == SeverityWarning {
			d.Severity = SeverityError
		}
		diags = append(diags, d)
	}

	m, secDiags, parseErr := manifest.Parse(data)
	if parseErr != nil && len(secDiags) == 0 {
		// Structural failure: nothing else can be usefully checked.
		add(Diagnostic{
			Rule:     "valid-manifest",
			Severity: SeverityError,
			Message:  parseErr.Error(),
			File:     manifestPath,
		})
		return diags, nil
	}
	for _, d := range secDiags {
		add(securityDiagnostic(manifestPath, d))
	}
	if m == nil {
		return diags, nil
	}

	lintActions(m, manifestPath, add)
	lintCompleteness(m, manifestPath, add)
	if opts.CheckEntryPoint {
		lintEntryPoint(m, manifestDir, manifestPath, add)
	}
	if m.Entry.Runtime == "" {
		lintSource(manifestDir, m, add)
	}

	return diags, nil
}

// locateManifest resolves a manifest.json either at dir's root (same-runtime
// package) or inside a single package subdirectory identified by a
// neighbouring build-system file (cross-runtime package per §6.1).
func locateManifest(dir string) (manifestDir, manifestPath string, err error) {
	root := filepath.Join(dir, "manifest.json")
	if _, statErr := os.Stat(root); statErr == nil {
		return dir, root, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("linter: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		candidate := filepath.Join(sub, "manifest.json")
		if _, statErr := os.Stat(candidate); statErr != nil {
			continue
		}
		for _, buildFile := range []string{"pyproject.toml", "setup.py"} {
			if _, statErr := os.Stat(filepath.Join(sub, buildFile)); statErr == nil {
				return sub, candidate, nil
			}
		}
	}
	return "", "", fmt.Errorf("linter: no manifest.json found under %s", dir)
}

// securityDiagnostic classifies a manifest-package security diagnostic into
// its corresponding lint rule by the shape of its message, since the
// manifest package itself does not tag I1 vs I2 findings separately.
func securityDiagnostic(file string, d manifest.Diagnostic) Diagnostic {
	rule := "no-free-strings-in-agent-data"
	if strings.Contains(d.Message, "placeholder") {
		rule = "template-fields-exist"
	}
	return Diagnostic{Rule: rule, Severity: SeverityError, Message: fmt.Sprintf("%s: %s", d.Path, d.Message), File: file}
}

func lintActions(m *manifest.Manifest, file string, add func(Diagnostic)) {
	for _, name := range sortedActionNames(m.Actions) {
		action := m.Actions[name]
		if action.ResponseMode != manifest.ModeTemplate {
			continue
		}
		if len(action.ResponseTemplates) == 0 {
			add(Diagnostic{
				Rule:     "has-response-templates",
				Severity: SeverityError,
				Message:  fmt.Sprintf("action %q is template-mode but declares no responseTemplates", name),
				File:     file,
			})
			continue
		}
		if _, ok := action.ResponseTemplates["success"]; !ok {
			add(Diagnostic{
				Rule:     "default-template-recommended",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("action %q has no \"success\" template; template selection falls back to it by convention", name),
				File:     file,
			})
		}
	}
}

func lintCompleteness(m *manifest.Manifest, file string, add func(Diagnostic)) {
	if m.Description == "" {
		add(Diagnostic{Rule: "manifest-completeness", Severity: SeverityInfo, Message: "manifest has no description", File: file})
	}
	if m.Author == "" {
		add(Diagnostic{Rule: "manifest-completeness", Severity: SeverityInfo, Message: "manifest has no author", File: file})
	}
	if m.License == "" {
		add(Diagnostic{Rule: "manifest-completeness", Severity: SeverityInfo, Message: "manifest has no license", File: file})
	}
	if m.Limits.MaxExecutionTimeMs > highExecutionTimeMs {
		add(Diagnostic{
			Rule:     "manifest-completeness",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("limits.maxExecutionTimeMs=%d is unusually high (>%dms)", m.Limits.MaxExecutionTimeMs, highExecutionTimeMs),
			File:     file,
		})
	}
}

func lintEntryPoint(m *manifest.Manifest, manifestDir, file string, add func(Diagnostic)) {
	entryPath := filepath.Join(manifestDir, m.Entry.Path)
	if _, err := os.Stat(entryPath); err != nil {
		add(Diagnostic{
			Rule:     "entry-point-exists",
			Severity: SeverityError,
			Message:  fmt.Sprintf("entry artifact %q is missing", m.Entry.Path),
			File:     file,
		})
	}
}

func sortedActionNames(actions map[string]manifest.Action) []string {
	names := make([]string, 0, len(actions))
	for n := range actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
