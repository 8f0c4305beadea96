package linter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/trikhub/gateway/internal/gateway/manifest"
)

// forbiddenImport names an import path a same-runtime trik source file must
// not use, and why: a trik runs in-process inside the gateway, so filesystem,
// child-process, and raw-network access bypass every namespace-isolation
// guarantee (I4) the storage and config handles exist to provide.
type forbiddenImport struct {
	path    string
	message string
}

var forbiddenImports = []forbiddenImport{
	{"os/exec", "spawning child processes bypasses the worker subprocess model"},
	{"net", "raw network access bypasses the capabilities.tools declaration"},
	{"net/http", "raw HTTP access bypasses the capabilities.tools declaration"},
	{"os", "direct filesystem access bypasses the storage.* namespace isolation (I4)"},
	{"io/ioutil", "direct filesystem access bypasses the storage.* namespace isolation (I4)"},
	{"path/filepath", "direct filesystem access bypasses the storage.* namespace isolation (I4)"},
}

var (
	importLineRe  = regexp.MustCompile(`^\s*"([^"]+)"\s*$`)
	importBlockRe = regexp.MustCompile(`^\s*import\s*\(`)
	importOneRe   = regexp.MustCompile(`^\s*import\s+"([^"]+)"`)
	envAccessRe   = regexp.MustCompile(`\bos\.Getenv\(`)
	dynCodeRe     = regexp.MustCompile(`\breflect\.ValueOf\(.*\)\.Call\(|\bplugin\.Open\(`)
	callToolRe    = regexp.MustCompile(`\bCallTool\(\s*"([^"]+)"`)
)

// lintSource scans every .go file directly under dir (same-runtime packages
// only — cross-runtime packages ship no Go source for the gateway to read)
// for the source-level rules §4.2 names: forbidden imports, dynamic code
// execution, use of tools absent from capabilities.tools, and direct
// environment-variable access.
func lintSource(dir string, m *manifest.Manifest, add func(Diagnostic)) {
	declaredTools := make(map[string]bool, len(m.Capabilities.Tools))
	for _, t := range m.Capabilities.Tools {
		declaredTools[t] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		lintSourceFile(path, declaredTools, add)
	}
}

func lintSourceFile(path string, declaredTools map[string]bool, add func(Diagnostic)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	inImportBlock := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if importBlockRe.MatchString(line) {
			inImportBlock = true
			continue
		}
		if inImportBlock {
			if strings.TrimSpace(line) == ")" {
				inImportBlock = false
				continue
			}
			if m := importLineRe.FindStringSubmatch(line); m != nil {
				checkImport(m[1], path, lineNo, add)
			}
		} else if m := importOneRe.FindStringSubmatch(line); m != nil {
			checkImport(m[1], path, lineNo, add)
		}

		if dynCodeRe.MatchString(line) {
			add(Diagnostic{
				Rule:     "no-dynamic-code-execution",
				Severity: SeverityError,
				Message:  "dynamic code execution (reflect.Call / plugin.Open) is not permitted in a trik",
				File:     path,
				Line:     lineNo,
			})
		}

		if m := callToolRe.FindStringSubmatch(line); m != nil && !declaredTools[m[1]] {
			add(Diagnostic{
				Rule:     "undeclared-tool-use",
				Severity: SeverityError,
				Message:  fmt.Sprintf("CallTool(%q) used but %q is not declared in capabilities.tools", m[1], m[1]),
				File:     path,
				Line:     lineNo,
			})
		}

		if envAccessRe.MatchString(line) {
			add(Diagnostic{
				Rule:     "direct-env-access",
				Severity: SeverityWarning,
				Message:  "direct os.Getenv access bypasses the config store's namespace isolation (I4)",
				File:     path,
				Line:     lineNo,
			})
		}
	}
}

func checkImport(importPath, file string, line int, add func(Diagnostic)) {
	for _, f := range forbiddenImports {
		if importPath == f.path {
			add(Diagnostic{
				Rule:     "forbidden-import",
				Severity: SeverityError,
				Message:  fmt.Sprintf("import %q is forbidden: %s", importPath, f.message),
				File:     file,
				Line:     line,
			})
		}
	}
}
