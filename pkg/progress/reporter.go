// Package progress renders the requirement-check status tree.
//
// The Reporter draws one tree per poll: the pipeline at the root, one
// branch per step, one leaf per requirement. On a terminal the tree is
// redrawn in place; elsewhere only the final tree is written.
package progress

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"

	"github.com/3leaps/pipecheck/pkg/requirement"
)

// DefaultInterval is the redraw cadence of Run.
const DefaultInterval = 800 * time.Millisecond

// Marker texts. Tests and downstream tooling match on these.
const (
	SkippedStepText = "Skipped, no requirements specified."
	IfSkippedSuffix = "(skipped by if-statement)"
	SuccessMark     = "✔"
	ErrorMark       = "x"
)

// Source is what Run polls: the scheduler, or a fake in tests.
type Source interface {
	// Poll folds finished work into the status tables.
	Poll()

	// Snapshot copies the status tables.
	Snapshot() requirement.Snapshot
}

// Options configures a Reporter.
type Options struct {
	// Verbose adds captured stderr beneath each error leaf.
	Verbose bool

	// Interval between polls. Zero means DefaultInterval.
	Interval time.Duration

	// Interactive redraws the tree in place after every poll. When false
	// only the final tree is written.
	Interactive bool

	// Width is the terminal width in cells. Lines wider than this wrap and
	// occupy more than one row when the tree is redrawn. Zero means unknown:
	// every line is taken as one row.
	Width int
}

// Reporter renders snapshots for one pipeline.
type Reporter struct {
	out      io.Writer
	pipeline string
	steps    map[string]requirement.StepRequirements
	opts     Options

	mu    sync.Mutex
	frame int
	lines int

	pending  spinner.Spinner
	checking spinner.Spinner

	title     lipgloss.Style
	bold      lipgloss.Style
	faint     lipgloss.Style
	yellow    lipgloss.Style
	green     lipgloss.Style
	red       lipgloss.Style
	enumStyle lipgloss.Style
}

// New creates a Reporter writing to out.
func New(out io.Writer, pipeline string, steps []requirement.StepRequirements, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	byName := make(map[string]requirement.StepRequirements, len(steps))
	for _, s := range steps {
		byName[s.Step] = s
	}

	re := lipgloss.NewRenderer(out)
	return &Reporter{
		out:       out,
		pipeline:  pipeline,
		steps:     byName,
		opts:      opts,
		pending:   spinner.Line,
		checking:  spinner.MiniDot,
		title:     re.NewStyle().Bold(true),
		bold:      re.NewStyle().Bold(true),
		faint:     re.NewStyle().Faint(true),
		yellow:    re.NewStyle().Foreground(lipgloss.Color("3")),
		green:     re.NewStyle().Foreground(lipgloss.Color("2")),
		red:       re.NewStyle().Foreground(lipgloss.Color("1")),
		enumStyle: re.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// TerminalWidth returns the width of the terminal behind w, or 0 when w
// is not a terminal or its size is unknown.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil || width <= 0 {
		return 0
	}
	return width
}

// Run polls src every interval until every status is terminal or ctx is
// done. It returns the last snapshot it saw.
//
// On cancellation nothing more is drawn; the caller settles the source and
// calls Draw with the final snapshot.
func (r *Reporter) Run(ctx context.Context, src Source) (requirement.Snapshot, error) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		src.Poll()
		snap := src.Snapshot()
		done := snap.Done()

		if done || r.opts.Interactive {
			r.Draw(snap)
		}
		if done {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Draw writes the tree for snap, replacing the previous tree when
// interactive.
func (r *Reporter) Draw(snap requirement.Snapshot) {
	out := r.Render(snap)

	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	if r.opts.Interactive && r.lines > 0 {
		b.WriteString(ansi.CursorUp(r.lines))
		b.WriteString("\r")
		b.WriteString(ansi.EraseScreenBelow)
	}
	b.WriteString(out)
	b.WriteString("\n")
	_, _ = io.WriteString(r.out, b.String())
	r.lines = rows(out, r.opts.Width)
}

// rows returns how many terminal rows out occupies at the given width.
func rows(out string, width int) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		w := ansi.StringWidth(line)
		if width <= 0 || w <= width {
			n++
			continue
		}
		n += (w + width - 1) / width
	}
	return n
}

// Render returns the tree for snap without writing it.
func (r *Reporter) Render(snap requirement.Snapshot) string {
	r.mu.Lock()
	frame := r.frame
	r.frame++
	r.mu.Unlock()

	root := tree.Root("Checking requirements for pipeline: " + r.title.Render(strings.ToUpper(r.pipeline))).
		EnumeratorStyle(r.enumStyle)

	branches := map[string]*tree.Tree{}
	for _, key := range snap.Keys {
		step, name := requirement.SplitKey(key)
		st := snap.Status(key)

		if name == "" {
			root.Child(
				tree.Root(r.stepLabel(step)).
					EnumeratorStyle(r.enumStyle).
					Child(r.yellow.Render(SkippedStepText)),
			)
			continue
		}

		branch, ok := branches[step]
		if !ok {
			branch = tree.Root(r.stepLabel(step)).EnumeratorStyle(r.enumStyle)
			branches[step] = branch
			root.Child(branch)
		}
		branch.Child(r.leaf(step, name, st, snap.Errors[key], frame))
	}
	return root.String()
}

func (r *Reporter) stepLabel(step string) string {
	label := r.bold.Render(step)
	if summary := r.steps[step].Summary; summary != "" {
		label += ": " + summary
	}
	return label
}

func (r *Reporter) leaf(step, name string, st requirement.Status, stderr string, frame int) any {
	switch st {
	case requirement.StatusPending:
		return r.faint.Render(spinFrame(r.pending, frame) + " " + name)
	case requirement.StatusChecking:
		return r.yellow.Render(spinFrame(r.checking, frame) + " " + name)
	case requirement.StatusSuccess:
		return r.green.Render(SuccessMark + " " + name)
	case requirement.StatusIfSkipped:
		return r.faint.Render(name + " " + IfSkippedSuffix)
	case requirement.StatusError:
		text := " " + name
		if req, ok := r.steps[step].Lookup(name); ok && req.Message != "" {
			text += ": " + req.Message
		}
		label := r.red.Bold(true).Render(ErrorMark) + r.red.Render(text)
		stderr = strings.TrimRight(stderr, "\n")
		if !r.opts.Verbose || stderr == "" {
			return label
		}
		return tree.Root(label).EnumeratorStyle(r.enumStyle).Child(r.red.Render(stderr))
	default:
		return name
	}
}

func spinFrame(s spinner.Spinner, frame int) string {
	if len(s.Frames) == 0 {
		return ""
	}
	return s.Frames[frame%len(s.Frames)]
}
