package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator"
)

var (
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed    = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
	colorWhite  = lipgloss.AdaptiveColor{Light: "0", Dark: "15"}
)

var (
	styleBrand   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleLabel   = lipgloss.NewStyle().Foreground(colorDim)
	styleValue   = lipgloss.NewStyle().Foreground(colorWhite)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// printField writes one "label  value" line, labels padded to width.
func printField(w io.Writer, width int, label, value string) {
	fmt.Fprintf(w, "    %s %s\n", styleLabel.Render(fmt.Sprintf("%-*s", width, label)), styleValue.Render(value))
}

func printRunResult(w io.Writer, res *orchestrator.RunResult) {
	fmt.Fprintf(w, "  %s %s\n", styleSuccess.Render("✓"), styleBrand.Render("Video generated"))
	printField(w, 12, "Run", res.RunID)
	printField(w, 12, "Audio", res.Audio)
	printField(w, 12, "Image", res.Image)
	printField(w, 12, "Output", res.Output)
	printField(w, 12, "Took", res.FinishedAt.Sub(res.StartedAt).Round(time.Second).String())
	if n := len(res.Preprocess.Converted); n > 0 {
		printField(w, 12, "Converted", fmt.Sprintf("%d audio file(s)", n))
	}
}

func statusMark(s orchestrator.CheckStatus) string {
	switch s {
	case orchestrator.CheckOK:
		return styleSuccess.Render("✓")
	case orchestrator.CheckWarning:
		return styleWarning.Render("!")
	default:
		return styleError.Render("✗")
	}
}

func printEnvironment(w io.Writer, status *orchestrator.EnvironmentStatus) {
	width := 0
	for _, c := range status.Checks {
		width = max(width, len(c.Name))
	}
	for _, c := range status.Checks {
		fmt.Fprintf(w, "  %s %s %s\n", statusMark(c.Status), styleLabel.Render(c.Name+strings.Repeat(" ", width-len(c.Name))), c.Detail)
	}
	fmt.Fprintln(w)
	if status.Ready {
		fmt.Fprintf(w, "  %s\n", styleSuccess.Render("Environment ready"))
	} else {
		fmt.Fprintf(w, "  %s\n", styleError.Render(fmt.Sprintf("%d issue(s) found", len(status.Issues))))
	}
}
