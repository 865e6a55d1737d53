package config

import (
	"fmt"
	"sort"
	"strings"
)

// Issue is one configuration violation, addressed by field path.
type Issue struct {
	Path    string
	Message string
}

// ValidationError aggregates every violation found in a configuration, not
// just the first one.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid configuration"
	}
	lines := make([]string, 0, len(e.Issues)+1)
	lines = append(lines, fmt.Sprintf("invalid configuration (%d problems):", len(e.Issues)))
	for _, issue := range e.Issues {
		lines = append(lines, fmt.Sprintf("  %s: %s", issue.Path, issue.Message))
	}
	return strings.Join(lines, "\n")
}

func (e *ValidationError) add(path, format string, args ...any) {
	e.Issues = append(e.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) merge(other *ValidationError) {
	if other != nil {
		e.Issues = append(e.Issues, other.Issues...)
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

// validate checks the cross-cutting invariants over the whole collection.
// Individual variants are already shape-checked by the schema at this point.
func validate(cfg *AppConfig) *ValidationError {
	ve := &ValidationError{}

	if cfg.RootPort < 1 || cfg.RootPort > 65535 {
		ve.add("root_port", "must be between 1 and 65535, got %d", cfg.RootPort)
	}

	portCounts := map[int]int{cfg.RootPort: 1}
	pathCounts := map[string]int{}

	for i := range cfg.Translators {
		tc := &cfg.Translators[i]
		prefix := fmt.Sprintf("translators[%d]", i)

		if !tc.HasPort() && !tc.HasPath() {
			ve.add(prefix, "at least one of port or path must be provided")
		}
		if tc.HasPort() {
			if *tc.Port < 1 || *tc.Port > 65535 {
				ve.add(prefix+".port", "must be between 1 and 65535, got %d", *tc.Port)
			}
			portCounts[*tc.Port]++
		}
		if tc.HasPath() {
			if strings.TrimSpace(*tc.Path) == "" {
				ve.add(prefix+".path", "must not be empty")
			}
			pathCounts[strings.Trim(*tc.Path, "/")]++
		}

		if strings.TrimSpace(tc.InputLanguage) == "" {
			ve.add(prefix+".input_language", "must not be empty")
		}
		if strings.TrimSpace(tc.OutputLanguage) == "" {
			ve.add(prefix+".output_language", "must not be empty")
		}
		if len(tc.SupportedLanguages) == 0 {
			ve.add(prefix+".supported_languages", "must declare at least one language")
		}
		if tc.ContextLines < 0 {
			ve.add(prefix+".context_lines", "must be >= 0, got %d", tc.ContextLines)
		}
	}

	for _, port := range sortedDuplicates(portCounts) {
		ve.add("translators", "duplicate plugin port detected: %d", port)
	}
	for _, path := range sortedDuplicatePaths(pathCounts) {
		ve.add("translators", "duplicate plugin path detected: %q", path)
	}

	return ve
}

func sortedDuplicates(counts map[int]int) []int {
	dupes := make([]int, 0, len(counts))
	for port, n := range counts {
		if n > 1 {
			dupes = append(dupes, port)
		}
	}
	sort.Ints(dupes)
	return dupes
}

func sortedDuplicatePaths(counts map[string]int) []string {
	dupes := make([]string, 0, len(counts))
	for path, n := range counts {
		if n > 1 {
			dupes = append(dupes, path)
		}
	}
	sort.Strings(dupes)
	return dupes
}
