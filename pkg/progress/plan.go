package progress

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/3leaps/pipecheck/pkg/requirement"
)

// RenderPlan renders the extracted requirements without running them.
func RenderPlan(pipeline string, steps []requirement.StepRequirements) string {
	bold := lipgloss.NewStyle().Bold(true)
	faint := lipgloss.NewStyle().Faint(true)

	root := tree.Root("Requirements for pipeline: " + bold.Render(strings.ToUpper(pipeline)))
	for _, s := range steps {
		label := bold.Render(s.Step)
		if s.Summary != "" {
			label += ": " + s.Summary
		}
		branch := tree.Root(label)
		if !s.Declared() {
			branch.Child(faint.Render(SkippedStepText))
		}
		for _, r := range s.Requirements {
			leaf := tree.Root(bold.Render(r.Name)).Child("check: " + r.Check)
			if r.Condition != "" {
				leaf.Child("if: " + r.Condition)
			}
			if r.Message != "" {
				leaf.Child("message: " + r.Message)
			}
			branch.Child(leaf)
		}
		root.Child(branch)
	}
	return root.String()
}
