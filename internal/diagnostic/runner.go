// Package diagnostic is the interactive printer self-test: ask for a port
// and baud rate, open, print a test text, cut, close, and show the raw
// driver code of every step.
package diagnostic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thereceipt/printer-bridge/internal/driver"
	"github.com/thereceipt/printer-bridge/internal/ports"
	"github.com/thereceipt/printer-bridge/internal/printer"
)

// TestText is printed by every diagnostic run
const TestText = "*** TESTE DE IMPRESSAO ***\nprinter-bridge\nSe voce consegue ler isto, a impressora esta funcionando."

// Step names as shown in the output
const (
	StepOpen      = "open"
	StepPrintText = "printText"
	StepCutPaper  = "cutPaper"
	StepClose     = "close"
)

// ErrNoPort is returned when no serial port was entered and there is no default
var ErrNoPort = errors.New("no serial port given")

// Step is the outcome of one driver call
type Step struct {
	Name    string
	Code    int
	Skipped bool
}

// Report lists the steps of a run in call order
type Report struct {
	Port  string
	Baud  int
	Steps []Step
}

// Code returns the code of the named step and whether it ran
func (r Report) Code(name string) (int, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Code, !s.Skipped
		}
	}
	return 0, false
}

// ListFunc lists the ports shown before the prompts
type ListFunc func() ([]ports.Descriptor, error)

// Runner runs the self-test against a Manager. No retries are made.
type Runner struct {
	manager *printer.Manager
	in      *bufio.Reader
	out     io.Writer

	modelID     int
	cutFeed     int
	defaultPort string
	defaultBaud int
	list        ListFunc

	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
}

// Option configures a Runner
type Option func(*Runner)

// WithModelID sets the model id passed to open
func WithModelID(id int) Option {
	return func(r *Runner) {
		r.modelID = id
	}
}

// WithCutFeed sets the lines fed before the cut
func WithCutFeed(lines int) Option {
	return func(r *Runner) {
		r.cutFeed = lines
	}
}

// WithDefaults sets the answers used when a prompt is left empty
func WithDefaults(port string, baud int) Option {
	return func(r *Runner) {
		r.defaultPort = port
		r.defaultBaud = baud
	}
}

// WithPortList shows the available ports before prompting
func WithPortList(fn ListFunc) Option {
	return func(r *Runner) {
		r.list = fn
	}
}

// NewRunner creates a runner reading answers from in and writing to out
func NewRunner(manager *printer.Manager, in io.Reader, out io.Writer, opts ...Option) *Runner {
	renderer := lipgloss.NewRenderer(out)

	r := &Runner{
		manager:     manager,
		in:          bufio.NewReader(in),
		out:         out,
		cutFeed:     3,
		defaultBaud: driver.DefaultBaud,
		title:       renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		label:       renderer.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true),
		ok:          renderer.NewStyle().Foreground(lipgloss.Color("#10B981")),
		fail:        renderer.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		muted:       renderer.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run prompts for the connection parameters and runs the self-test. An
// open failure skips print and cut but the connection is still closed. The
// returned error covers only prompt and input failures; driver failures are
// reported in the Report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	fmt.Fprintln(r.out, r.title.Render("Printer diagnostic"))

	if r.list != nil {
		r.showPorts()
	}

	port, err := r.ask("serial port", r.defaultPort)
	if err != nil {
		return Report{}, err
	}
	if port == "" {
		return Report{}, ErrNoPort
	}

	baudText, err := r.ask("baud rate", strconv.Itoa(r.defaultBaud))
	if err != nil {
		return Report{}, err
	}
	baud, err := strconv.Atoi(baudText)
	if err != nil || baud <= 0 {
		return Report{}, fmt.Errorf("invalid baud rate %q", baudText)
	}

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Port: port, Baud: baud}

	openCode := driver.CodeOK
	if err := r.manager.Open(port, baud, r.modelID); err != nil {
		openCode = r.manager.LastCode()
		var connErr *printer.ConnectionError
		if errors.As(err, &connErr) {
			openCode = connErr.Code
		}
	}
	r.record(&report, Step{Name: StepOpen, Code: openCode})

	if openCode == driver.CodeOK {
		code, _ := r.manager.PrintText(TestText, driver.AlignCenter, false, false)
		r.record(&report, Step{Name: StepPrintText, Code: code})

		code, _ = r.manager.CutPaper(r.cutFeed)
		r.record(&report, Step{Name: StepCutPaper, Code: code})
	} else {
		r.record(&report, Step{Name: StepPrintText, Skipped: true})
		r.record(&report, Step{Name: StepCutPaper, Skipped: true})
	}

	r.manager.Close()
	r.record(&report, Step{Name: StepClose, Code: r.manager.LastCode()})

	return report, nil
}

func (r *Runner) showPorts() {
	list, err := r.list()
	if err != nil {
		fmt.Fprintln(r.out, r.fail.Render(err.Error()))
		return
	}
	var b strings.Builder
	ports.FormatList(&b, list)
	fmt.Fprint(r.out, r.muted.Render(strings.TrimSuffix(b.String(), "\n"))+"\n")
}

// ask prompts for one answer. EOF with no input yields the default.
func (r *Runner) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(r.out, "%s %s: ", r.label.Render(prompt), r.muted.Render("["+def+"]"))
	} else {
		fmt.Fprintf(r.out, "%s: ", r.label.Render(prompt))
	}

	line, err := r.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", prompt, err)
	}

	answer := strings.TrimSpace(line)
	if answer == "" {
		answer = def
	}
	return answer, nil
}

func (r *Runner) record(report *Report, step Step) {
	report.Steps = append(report.Steps, step)

	if step.Skipped {
		fmt.Fprintln(r.out, r.muted.Render(step.Name+": skipped"))
		return
	}

	line := fmt.Sprintf("%s: %d", step.Name, step.Code)
	if step.Code == driver.CodeOK {
		fmt.Fprintln(r.out, r.ok.Render(line))
	} else {
		fmt.Fprintln(r.out, r.fail.Render(line))
	}
}
