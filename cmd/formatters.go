package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"vigil/core"
	"vigil/correlate"
	"vigil/narrative"
)

func printSection(w io.Writer, title string) {
	infoColor.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("-", len(title)))
}

func printField(w io.Writer, name, value string) {
	if value == "" {
		value = "-"
	}
	fmt.Fprintf(w, "  %-16s %s\n", name+":", value)
}

// renderRunResult displays the outcome of a correlation run
func renderRunResult(w io.Writer, result correlate.RunResult, elapsed time.Duration) {
	if result.IncidentsCreated == 0 && result.AlertsAttached == 0 {
		warningColor.Fprintf(w, "No new incidents (%d alerts examined)\n", result.Processed)
	} else {
		successColor.Fprintf(w, "✓ %d incidents created, %d alerts attached\n", result.IncidentsCreated, result.AlertsAttached)
	}
	printField(w, "Processed", fmt.Sprintf("%d", result.Processed))
	printField(w, "Skipped", fmt.Sprintf("%d", result.Skipped))
	if result.Errors > 0 {
		errorColor.Fprintf(w, "  %-16s %d\n", "Errors:", result.Errors)
	}
	printField(w, "Elapsed", elapsed.Round(time.Millisecond).String())
}

// renderIncidentsTable displays incidents in a formatted table
func renderIncidentsTable(w io.Writer, incidents []*core.Incident) {
	if len(incidents) == 0 {
		warningColor.Fprintln(w, "No incidents")
		return
	}

	headerColor.Fprintln(w, "INCIDENTS")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-10s %-40s %-12s %-9s %-4s %-20s %s\n",
		"ID", "Summary", "Status", "Severity", "Pri", "Rule", "Created")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, inc := range incidents {
		shortID := inc.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		summary := inc.Reason.Summary
		if len(summary) > 39 {
			summary = summary[:36] + "..."
		}
		fmt.Fprintf(w, "%-10s %-40s %-12s %-9s %-4s %-20s %s\n",
			shortID, summary, inc.Status, inc.Severity, inc.Reason.Priority, inc.Reason.RuleID, formatTimeSince(inc.CreatedAt))
	}

	fmt.Fprintln(w, strings.Repeat("=", 110))
}

// renderNarrative prints a narrative with highlighted section headers
func renderNarrative(w io.Writer, res narrative.Result) {
	source := "template"
	if res.AIUsed {
		source = "provider " + res.Provider
	}
	infoColor.Fprintf(w, "Narrative from %s\n\n", source)

	for _, line := range strings.Split(res.Text, "\n") {
		if strings.HasPrefix(line, "## ") {
			headerColor.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}

// formatTimeSince formats time since a timestamp
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	duration := time.Since(t)
	if duration < time.Minute {
		return fmt.Sprintf("%ds ago", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
