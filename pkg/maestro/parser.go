// Package maestro wraps the Maestro CLI as the accessibility automation
// backend: flows are synthesized per operation, executed with `maestro test`,
// and the CLI output is parsed into a structured result.
package maestro

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the structured outcome of one Maestro invocation.
type Result struct {
	Success      bool
	ExitCode     int
	Stdout       string
	Stderr       string
	ErrorMessage string
	OutputDir    string // Maestro's per-run artifact directory

	// ScreenshotBase64 carries the captured image for screenshot flows.
	ScreenshotBase64 string
}

// outputDirPattern matches Maestro's artifact directory announcement,
// e.g. /Users/x/.maestro/tests/2026-01-31_134000.
var outputDirPattern = regexp.MustCompile(`(/[^\s]+/\.maestro/tests/\d{4}-\d{2}-\d{2}_\d+)`)

var elementNotFoundPattern = regexp.MustCompile(`Unable to find[^:]*: (.+)`)

// ParseOutput classifies Maestro CLI output into a Result.
func ParseOutput(exitCode int, stdout, stderr string) Result {
	result := Result{
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}

	combined := stdout + stderr

	if m := outputDirPattern.FindString(combined); m != "" {
		result.OutputDir = m
	}

	if result.Success {
		return result
	}

	switch {
	case strings.Contains(combined, "Unable to find") || strings.Contains(combined, "Element not found"):
		if m := elementNotFoundPattern.FindStringSubmatch(combined); m != nil {
			result.ErrorMessage = "Element not found: " + strings.TrimSpace(m[1])
		} else {
			result.ErrorMessage = "Element not found"
		}
	case strings.Contains(combined, "Timeout") || strings.Contains(combined, "timed out"):
		result.ErrorMessage = "Timeout waiting for element"
	case strings.Contains(combined, "No app") || strings.Contains(combined, "not running"):
		result.ErrorMessage = "App not running on device"
	default:
		result.ErrorMessage = lastMeaningfulLine(combined, exitCode)
	}

	return result
}

// lastMeaningfulLine picks the last non-empty line as the error, skipping the
// artifact path Maestro prints on every run.
func lastMeaningfulLine(combined string, exitCode int) string {
	var last string
	for _, line := range strings.Split(combined, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") && strings.Contains(line, "maestro/tests") {
			continue
		}
		last = line
	}
	if last == "" {
		return fmt.Sprintf("Maestro failed with exit code %d", exitCode)
	}
	if len(last) > 200 {
		last = last[:200]
	}
	return last
}
