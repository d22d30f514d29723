// Package cli implements the shepherd command line interface.
package cli

import (
	"context"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/zhubert/shepherd/exec"
)

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Command name (e.g., "claude")
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// DefaultPrerequisites returns the CLI tools shepherd needs, with the
// configured assistant command as the required one.
func DefaultPrerequisites(command string) []Prerequisite {
	return []Prerequisite{
		{
			Name:        command,
			Required:    true,
			Description: "Assistant CLI to supervise",
			InstallURL:  "https://claude.ai/code",
		},
		{
			Name:        "pgrep",
			Required:    false, // Only needed for orphan cleanup
			Description: "Process lookup (optional, for orphan cleanup)",
			InstallURL:  "https://man7.org/linux/man-pages/man1/pgrep.1.html",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Check verifies that a CLI tool is available in PATH
func Check(ex exec.CommandExecutor, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := osexec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(ex, prereq.Name)
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ex exec.CommandExecutor, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ex, prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met.
// Returns nil if all required tools are found, otherwise an error
// describing what's missing.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if _, err := osexec.LookPath(prereq.Name); err != nil {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// getVersion attempts to get the version of a CLI tool
func getVersion(ex exec.CommandExecutor, name string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Different tools use different version flags
	for _, flag := range []string{"--version", "-v", "version"} {
		output, err := ex.Output(ctx, "", name, flag)
		if err != nil {
			continue
		}
		lines := strings.Split(string(output), "\n")
		if len(lines) == 0 {
			continue
		}
		version := strings.TrimSpace(lines[0])
		if len(version) > 100 {
			version = version[:100] + "..."
		}
		return version
	}
	return ""
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "ok"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "MISSING"
			} else {
				status = "missing (optional)"
			}
		}
		sb.WriteString(fmt.Sprintf("  %-20s %s", r.Prerequisite.Name, status))
		if r.Version != "" {
			sb.WriteString("  " + r.Version)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
