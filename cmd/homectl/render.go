package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	homecode "github.com/abaland/Home-Code"
	"github.com/abaland/Home-Code/contracts"
	"github.com/abaland/Home-Code/health"
)

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// renderResponse draws one worker reply as a card.
func renderResponse(resp contracts.WorkerResponse, versionStatus health.VersionStatus) string {
	status := successStyle.Render("ok")
	if !resp.Succeeded() {
		status = errorStyle.Render("failed (" + resp.Status + ")")
	}

	lines := []string{titleStyle.Render(resp.ID) + " " + status}

	if resp.Version != "" {
		v := resp.Version
		switch versionStatus {
		case health.VersionOutdated, health.VersionUnknown:
			v = warningStyle.Render(v + " (" + string(versionStatus) + ")")
		case health.VersionAhead:
			v = mutedStyle.Render(v + " (ahead)")
		}
		lines = append(lines, field("version", v))
	}
	if resp.Timestamp != "" {
		lines = append(lines, field("time", resp.Timestamp))
	}
	if cpu, ok := resp.CPUPercent(); ok {
		lines = append(lines, field("cpu", fmt.Sprintf("%.1f%%", cpu)))
	}
	for _, k := range sortedKeys(resp.Attributes) {
		lines = append(lines, field(k, resp.Attributes[k]))
	}
	for _, el := range resp.Elements {
		attrs := make([]string, 0, len(el.Attributes))
		for _, k := range sortedKeys(el.Attributes) {
			attrs = append(attrs, k+"="+el.Attributes[k])
		}
		lines = append(lines, field(el.Name, strings.Join(attrs, " ")))
	}

	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderResult is the summary line printed after an ask ends.
func renderResult(in contracts.Instruction, result homecode.AskResult) string {
	expected := len(in.Targets())
	if expected == 0 {
		expected = 1
	}
	counts := fmt.Sprintf("%d/%d replies in %s", len(result.Responses), expected, result.Elapsed.Round(time.Millisecond))

	if result.Matched() {
		return successStyle.Render(in.Type+" done") + " " + mutedStyle.Render(counts)
	}
	return warningStyle.Render(in.Type+" "+result.State.String()) + " " + mutedStyle.Render(counts)
}

func renderHealth(report health.Report) string {
	lines := []string{titleStyle.Render("System Health:") + " " + statusStyle(report.Status).Render(string(report.Status))}
	if report.Broker != "" {
		lines = append(lines, field("broker", statusStyle(report.Broker).Render(string(report.Broker))))
	}
	if len(report.OutdatedWorkers) > 0 {
		outdated := strings.Join(report.OutdatedWorkers, ", ")
		if report.ExpectedVersion != "" {
			outdated += " " + mutedStyle.Render("(expected "+report.ExpectedVersion+")")
		}
		lines = append(lines, field("outdated", warningStyle.Render(outdated)))
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := report.Checks[name]
		line := fmt.Sprintf("  %-22s %s", name, statusStyle(check.Status).Render(string(check.Status)))
		if check.Message != "" {
			line += " " + mutedStyle.Render(check.Message)
		}
		if check.Error != "" {
			line += " " + errorStyle.Render(check.Error)
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func statusStyle(status health.Status) lipgloss.Style {
	switch status {
	case health.StatusHealthy:
		return successStyle
	case health.StatusDegraded:
		return warningStyle
	default:
		return errorStyle
	}
}

func field(name, value string) string {
	return mutedStyle.Render(fmt.Sprintf("%-10s", name)) + " " + value
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
