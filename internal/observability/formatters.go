// Package observability provides run metrics and formatted output for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/session-runner/internal/blueprint"
	"github.com/jonathan/session-runner/internal/db"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxStepsToShow is the number of steps listed before eliding the rest
	maxStepsToShow = 12
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// describeNext renders a step's successor declaration on one line
func describeNext(step *blueprint.Step) string {
	switch {
	case step.Kind == blueprint.KindSessionSummary:
		return "(end)"
	case step.Next == nil:
		return "(next in list)"
	case step.Next.Default != "":
		return step.Next.Default
	}
	parts := make([]string, 0, len(step.Next.Branches))
	for _, b := range step.Next.Branches {
		cond := b.Condition
		if cond == "" {
			cond = "else"
		}
		parts = append(parts, fmt.Sprintf("%s? %s", cond, b.To))
	}
	return strings.Join(parts, " | ")
}

// PrintBlueprint outputs the step graph of a blueprint.
func (p *Printer) PrintBlueprint(bp *blueprint.Blueprint) {
	if bp == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Blueprint: %s (v%d)\n", bp.BlueprintID, bp.SchemaVersion))
	sb.WriteString(fmt.Sprintf("Start:     %s\n", bp.StartStepID))
	sb.WriteString(fmt.Sprintf("Steps:     %d\n\n", len(bp.Steps)))

	count := min(len(bp.Steps), maxStepsToShow)
	for i := 0; i < count; i++ {
		step := &bp.Steps[i]
		sb.WriteString(fmt.Sprintf("%-6s %-16s -> %s\n", step.ID, step.Kind, describeNext(step)))
	}
	if len(bp.Steps) > maxStepsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more steps\n", len(bp.Steps)-maxStepsToShow))
	}

	p.printBox("BLUEPRINT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintPath outputs the predicted path for the given inputs, marking the
// current step when it lies on the path.
func (p *Printer) PrintPath(path []string, currentStepID string) {
	if len(path) == 0 {
		p.printBox("PREDICTED PATH", "(empty)")
		return
	}

	var sb strings.Builder
	for i, id := range path {
		marker := "  "
		if id == currentStepID {
			marker = "▶ "
		}
		sb.WriteString(fmt.Sprintf("%s%2d. %s\n", marker, i+1, id))
	}

	p.printBox("PREDICTED PATH", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRun outputs a run's status, position and recorded inputs.
func (p *Printer) PrintRun(run *db.SessionRun, progress blueprint.ProgressInfo) {
	if run == nil {
		return
	}

	status := string(run.Status)
	if run.Abandoned() {
		status = fmt.Sprintf("ABANDONED (%s)", *run.ExitReason)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:       %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Session:   %s\n", run.SessionID))
	sb.WriteString(fmt.Sprintf("Blueprint: %s\n", run.BlueprintID))
	sb.WriteString(fmt.Sprintf("Status:    %s\n", status))
	sb.WriteString(fmt.Sprintf("Step:      %s (%d/%d, %d%%)\n", run.CurrentStepID, progress.Position, progress.TotalSteps, progress.Percent))
	sb.WriteString(fmt.Sprintf("History:   %s\n", formatHistory(run.StepHistory, run.HistoryIndex)))
	sb.WriteString(fmt.Sprintf("Updated:   %s\n", run.UpdatedAt.Format("2006-01-02 15:04:05")))
	if run.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05")))
	}

	if len(run.Inputs) > 0 {
		sb.WriteString(fmt.Sprintf("\nInputs (%d):\n", len(run.Inputs)))
		for _, id := range run.StepHistory {
			if in, ok := run.Inputs[id]; ok {
				sb.WriteString(fmt.Sprintf("  • %s: %s\n", id, formatInput(in)))
			}
		}
	}

	p.printBox("SESSION RUN", strings.TrimSuffix(sb.String(), "\n"))
}

// formatHistory brackets the entry at index
func formatHistory(history []string, index int) string {
	parts := make([]string, len(history))
	for i, id := range history {
		if i == index {
			parts[i] = "[" + id + "]"
		} else {
			parts[i] = id
		}
	}
	return strings.Join(parts, " ")
}

func formatInput(in blueprint.StepInput) string {
	var parts []string
	if in.AnswerIndex != nil {
		parts = append(parts, fmt.Sprintf("answer=%d", *in.AnswerIndex))
	}
	if in.Revealed {
		parts = append(parts, "revealed")
	}
	if in.Known != nil {
		parts = append(parts, fmt.Sprintf("known=%t", *in.Known))
	}
	if in.OX != nil {
		parts = append(parts, fmt.Sprintf("ox=%t", *in.OX))
	}
	if len(in.Connections) > 0 {
		parts = append(parts, fmt.Sprintf("connections=%d", len(in.Connections)))
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, " ")
}
