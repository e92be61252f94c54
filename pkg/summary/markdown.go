package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/reportoor/pkg/record"
)

// truncationReserve is kept free for the truncation notice.
const truncationReserve = 100

// failedTest is one failed attempt listed in the markdown summary.
type failedTest struct {
	SpecFile string
	Title    string
	Status   record.Status
	Retry    int
}

// RenderMarkdown renders a run summary as markdown, e.g. for a CI job
// summary. The failed tests section is last and is truncated so the output
// stays within maxChars. A maxChars of zero disables truncation.
func RenderMarkdown(project string, s *record.RunSummary, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# Test Run: %s\n\n", project)
	writeOverview(&sb, s)
	writeTestResults(&sb, s)
	writeSpecFiles(&sb, s.SpecFiles)
	writeFailedTests(&sb, collectFailedTests(s), maxChars)

	return sb.String()
}

func writeOverview(sb *strings.Builder, s *record.RunSummary) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Run ID | `%s` |\n", s.RunID)

	if s.Timestamp != "" {
		fmt.Fprintf(sb, "| Started | %s |\n", s.Timestamp)
	}

	fmt.Fprintf(sb, "| Duration | %s |\n", formatDuration(time.Duration(s.TotalRuntime)*time.Millisecond))

	if s.BranchName != "" {
		fmt.Fprintf(sb, "| Branch | %s |\n", s.BranchName)
	}

	if s.PullRequestNumber != "" {
		fmt.Fprintf(sb, "| Pull Request | #%s |\n", s.PullRequestNumber)
	}

	sb.WriteByte('\n')
}

func writeTestResults(sb *strings.Builder, s *record.RunSummary) {
	sb.WriteString("## Test Results\n\n")
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %d | %s%% |\n\n",
		s.TotalTests, s.Passed, s.Failed, s.Skipped, s.PassRate().StringFixed(2))
}

func writeSpecFiles(sb *strings.Builder, specs []record.SpecFileLink) {
	if len(specs) == 0 {
		return
	}

	sb.WriteString("## Spec Files\n\n")
	sb.WriteString("| Spec File | Status | Tests | Duration |\n")
	sb.WriteString("|---|---|---|---|\n")

	for _, sf := range specs {
		fmt.Fprintf(sb, "| %s | %s | %d | %s |\n",
			escapeCell(sf.Name),
			statusLabel(sf.Status),
			len(sf.Tests),
			formatDuration(time.Duration(sf.TotalDuration)*time.Millisecond),
		)
	}

	sb.WriteByte('\n')
}

func writeFailedTests(sb *strings.Builder, failed []failedTest, maxChars int) {
	if len(failed) == 0 {
		return
	}

	sb.WriteString("## Failed Tests\n\n")
	sb.WriteString("| Spec File | Test | Status | Retry |\n")
	sb.WriteString("|---|---|---|---|\n")

	for i, ft := range failed {
		row := fmt.Sprintf("| %s | %s | %s | %d |\n",
			escapeCell(ft.SpecFile), escapeCell(ft.Title), ft.Status, ft.Retry)

		if maxChars > 0 && sb.Len()+len(row)+truncationReserve > maxChars {
			fmt.Fprintf(sb,
				"\n*%d more failed test(s) not shown (output truncated at %d chars)*\n",
				len(failed)-i, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

// collectFailedTests lists failed attempts in summary order.
func collectFailedTests(s *record.RunSummary) []failedTest {
	failed := make([]failedTest, 0)

	for _, sf := range s.SpecFiles {
		for _, t := range sf.Tests {
			if t.Status.Bucket() != record.StatusFailed {
				continue
			}

			failed = append(failed, failedTest{
				SpecFile: sf.Name,
				Title:    t.Title,
				Status:   t.Status,
				Retry:    t.Retry,
			})
		}
	}

	return failed
}

func statusLabel(s record.Status) string {
	switch s {
	case record.StatusPassed:
		return "✅ passed"
	case record.StatusSkipped:
		return "⏭️ skipped"
	default:
		return "❌ " + string(s)
	}
}

// escapeCell keeps pipes and newlines from breaking the table layout.
func escapeCell(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ", "\r", "").Replace(s)
}

// formatDuration formats a time.Duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}
