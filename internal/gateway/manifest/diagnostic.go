package manifest

import "fmt"

// Diagnostic locates a single validation problem within a manifest document.
// Security-phase diagnostics are always collected in full rather than
// short-circuited, so the linter can report every offending field in one
// pass instead of making an author fix them one at a time.
type Diagnostic struct {
	Path    string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Path, d.Message)
}

// diagErr renders the first diagnostic as the single error a caller that
// only checks `err != nil` will see; the full list remains available via
// the diagnostics return value.
func diagErr(diags []Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	if len(diags) == 1 {
		return fmt.Errorf("manifest: %s", diags[0])
	}
	return fmt.Errorf("manifest: %s (and %d more)", diags[0], len(diags)-1)
}
