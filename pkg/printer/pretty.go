package printer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	evalStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	finalStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type PrettyOption func(*PrettyPrinter)

// WithMarkdown toggles glamour rendering of the final answer.
func WithMarkdown(enabled bool) PrettyOption {
	return func(p *PrettyPrinter) { p.markdown = enabled }
}

func WithWordWrap(width int) PrettyOption {
	return func(p *PrettyPrinter) { p.wrap = width }
}

// WithEvaluations prints the self-evaluation critiques between steps.
func WithEvaluations(show bool) PrettyOption {
	return func(p *PrettyPrinter) { p.evaluations = show }
}

// PrettyPrinter renders progress events for a terminal: a status line per step,
// intermediate step text, and the final answer as markdown.
type PrettyPrinter struct {
	mu          sync.Mutex
	w           io.Writer
	markdown    bool
	wrap        int
	evaluations bool
	renderer    *glamour.TermRenderer
}

var _ reasoning.Sink = (*PrettyPrinter)(nil)

func NewPrettyPrinter(w io.Writer, opts ...PrettyOption) *PrettyPrinter {
	p := &PrettyPrinter{w: w, markdown: true, wrap: 100, evaluations: true}
	for _, opt := range opts {
		opt(p)
	}
	if p.markdown {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(p.wrap))
		if err != nil {
			log.Warn().Err(err).Msg("markdown renderer unavailable, printing plain text")
			p.markdown = false
		} else {
			p.renderer = r
		}
	}
	return p
}

func (p *PrettyPrinter) PublishEvent(_ context.Context, e reasoning.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := e.(type) {
	case *reasoning.EventStepStarted:
		_, err := fmt.Fprintln(p.w, headerStyle.Render(stepLabel(ev.StepIndex, ev.TotalSteps)+" …"))
		return err
	case *reasoning.EventStepCompleted:
		if ev.IsFinal {
			return p.final(ev.Text)
		}
		block := []string{
			subHeaderStyle.Render(fmt.Sprintf("Step %d/%d complete", ev.StepIndex, ev.TotalSteps)),
			strings.TrimSpace(ev.Text),
			"",
		}
		_, err := fmt.Fprintln(p.w, strings.Join(block, "\n"))
		return err
	case *reasoning.EventEvaluationCompleted:
		if !p.evaluations {
			return nil
		}
		if ev.Failed {
			_, err := fmt.Fprintln(p.w, errorStyle.Render("Evaluation failed: ")+strings.TrimPrefix(ev.Text, "Error: "))
			return err
		}
		_, err := fmt.Fprintln(p.w, evalStyle.Render("Evaluation: "+strings.TrimSpace(ev.Text))+"\n")
		return err
	case *reasoning.EventRunFailed:
		_, err := fmt.Fprintln(p.w, errorStyle.Render("Error: ")+ev.Error)
		return err
	default:
		log.Debug().Str("event_type", string(e.Type())).Msg("pretty printer: unhandled event")
		return nil
	}
}

func (p *PrettyPrinter) final(text string) error {
	if _, err := fmt.Fprintln(p.w, finalStyle.Render("Final answer")); err != nil {
		return err
	}
	if p.renderer != nil {
		out, err := p.renderer.Render(text)
		if err == nil {
			_, err = fmt.Fprint(p.w, out)
			return err
		}
		log.Warn().Err(err).Msg("markdown render failed, printing plain text")
	}
	_, err := fmt.Fprintln(p.w, strings.TrimSpace(text))
	return err
}

func stepLabel(i, total int) string {
	if i >= total {
		return fmt.Sprintf("Final step %d/%d", i, total)
	}
	return fmt.Sprintf("Step %d/%d", i, total)
}
