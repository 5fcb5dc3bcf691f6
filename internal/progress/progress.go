// Package progress implements the orchestrator's Reporter: progress
// and prompt rendering for an interactive terminal, with a plain-text
// fallback when stdout is not a TTY.
//
// Rendering is isatty-gated: a TTY path uses charmbracelet components,
// a plain io.Writer path prints flat lines otherwise. The bar uses
// bubbles/progress's static ViewAs rendering rather than a full
// bubbletea.Program loop, since progress here is a sequence of
// discrete per-table completions, not a continuously animated
// process; the one place a short-lived tea.Program earns its keep is
// the confirmation prompt, which is genuinely interactive.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"pgsync/internal/models"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Reporter renders to w; interactive controls whether bars and prompts
// use terminal styling or degrade to plain lines.
type Reporter struct {
	w           io.Writer
	in          io.Reader
	interactive bool
	bar         progress.Model
}

// New builds a Reporter writing to w, reading confirmations from in.
// Interactivity is auto-detected from w when it is an *os.File
// attached to a terminal; in is not consulted for this.
func New(w io.Writer, in io.Reader) *Reporter {
	interactive := false
	if f, ok := w.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Reporter{
		w:           w,
		in:          in,
		interactive: interactive,
		bar:         progress.New(progress.WithDefaultGradient()),
	}
}

func (r *Reporter) Info(msg string) {
	fmt.Fprintln(r.w, msg)
}

// Confirm prompts y/N on an interactive terminal; on a non-interactive
// one it auto-confirms, since there is no one to answer the prompt.
func (r *Reporter) Confirm(prompt string) bool {
	if !r.interactive {
		fmt.Fprintln(r.w, prompt+" (non-interactive, proceeding)")
		return true
	}

	f, isFile := r.in.(*os.File)
	if !isFile {
		return r.confirmPlain(prompt)
	}

	m := confirmModel{prompt: prompt}
	program := tea.NewProgram(m, tea.WithInput(f), tea.WithOutput(r.w))
	final, err := program.Run()
	if err != nil {
		return r.confirmPlain(prompt)
	}
	cm, ok := final.(confirmModel)
	if !ok {
		return false
	}
	return cm.answer
}

func (r *Reporter) confirmPlain(prompt string) bool {
	fmt.Fprint(r.w, prompt+" [y/N] ")
	scanner := bufio.NewScanner(r.in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// confirmModel is a minimal bubbletea model for a y/n prompt: any key
// other than y/Y ends the program with answer=false.
type confirmModel struct {
	prompt string
	answer bool
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "y", "Y":
		m.answer = true
		return m, tea.Quit
	default:
		m.answer = false
		return m, tea.Quit
	}
}

func (m confirmModel) View() string {
	return m.prompt + " [y/N] "
}

func (r *Reporter) Analysis(diffs []*models.TableDiff) {
	fmt.Fprintln(r.w, headingStyle.Render("analysis"))
	for _, d := range diffs {
		if !d.NeedsSync {
			continue
		}
		fmt.Fprintf(r.w, "  %-32s local=%-8d remote=%-8d delete=%-6d updates=%v\n",
			d.Table, d.LocalCount, d.RemoteCount, len(d.IDsToDelete), d.HasUpdates)
	}
}

func (r *Reporter) DryRun(plan *models.Plan, actionable []*models.TableDiff) {
	fmt.Fprintln(r.w, headingStyle.Render("dry run"))
	if len(plan.TablesToRefresh) > 0 {
		fmt.Fprintln(r.w, dimStyle.Render("tables to refresh: "+strings.Join(plan.TablesToRefresh, ", ")))
	}
	if len(plan.ViewsToRefresh) > 0 {
		fmt.Fprintln(r.w, dimStyle.Render("views to refresh: "+strings.Join(plan.ViewsToRefresh, ", ")))
	}
	for _, d := range actionable {
		fmt.Fprintf(r.w, "  %-32s delete=%-6d refreshed=%v\n", d.Table, len(d.IDsToDelete), d.Refreshed)
	}
}

// Progress renders a single-line bar for the current table, i of n
// through the actionable set. On a non-interactive writer it prints a
// plain "i/n" line instead.
func (r *Reporter) Progress(table string, i, n int) {
	if n <= 0 {
		return
	}
	if !r.interactive {
		fmt.Fprintf(r.w, "[%d/%d] %s\n", i, n, table)
		return
	}
	pct := float64(i) / float64(n)
	fmt.Fprintf(r.w, "\r%s %s", r.bar.ViewAs(pct), table)
	if i == n {
		fmt.Fprintln(r.w)
	}
}

func (r *Reporter) Stats(results models.RunResults) {
	fmt.Fprintln(r.w, headingStyle.Render("sync results"))
	total := results.Totals()
	for table, tr := range results {
		line := fmt.Sprintf("  %-32s inserted=%-6d updated=%-6d deleted=%-6d errors=%-4d",
			table, tr.Inserted, tr.Updated, tr.Deleted, tr.Errors)
		if tr.Errors > 0 {
			line = warnStyle.Render(line)
		}
		fmt.Fprintln(r.w, line)
	}
	fmt.Fprintf(r.w, "%s inserted=%d updated=%d deleted=%d errors=%d\n",
		headingStyle.Render("total"), total.Inserted, total.Updated, total.Deleted, total.Errors)
}
