// Package terminal is the student workstation's text front end: it renders
// session callbacks to a writer and turns typed commands into controller
// calls.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/session"
)

// colorProfile picks the terminal's profile, or plain ASCII when ansi is off.
func colorProfile(ansi bool) termenv.Profile {
	if !ansi {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

type viewStyles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	selected lipgloss.Style
	progress lipgloss.Style
	warning  lipgloss.Style
	success  lipgloss.Style
	err      lipgloss.Style
}

func newViewStyles(r *lipgloss.Renderer) viewStyles {
	return viewStyles{
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header:   r.NewStyle().Bold(true),
		selected: r.NewStyle().Foreground(lipgloss.Color("10")),
		progress: r.NewStyle().Faint(true),
		warning:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		success:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		err:      r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// View implements session.Listener by printing to out.
type View struct {
	mu     sync.Mutex
	out    io.Writer
	term   *termenv.Output
	styles viewStyles
	title  string
	ansi   bool
}

// NewView returns a view writing to out. ansi enables colors and screen
// clearing between questions.
func NewView(out io.Writer, title string, ansi bool) *View {
	profile := colorProfile(ansi)
	r := lipgloss.NewRenderer(out, termenv.WithProfile(profile))
	r.SetColorProfile(profile)
	return &View{
		out:    out,
		term:   termenv.NewOutput(out, termenv.WithProfile(profile)),
		styles: newViewStyles(r),
		title:  title,
		ansi:   ansi,
	}
}

// paint styles a single line. Plain views print text untouched.
func (v *View) paint(style lipgloss.Style, text string) string {
	if !v.ansi {
		return text
	}
	return style.Render(text)
}

var _ session.Listener = (*View)(nil)

func (v *View) printf(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func (v *View) OnEntryPromptRequested() {
	v.printf("Enter exam password: ")
}

func (v *View) OnQuestionShown(index int, q model.Question, saved model.OptionLetter) {
	var b strings.Builder
	if v.title != "" {
		b.WriteString(v.paint(v.styles.title, fmt.Sprintf("== %s ==", v.title)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(v.paint(v.styles.header, fmt.Sprintf("Question %d", index+1)))
	fmt.Fprintf(&b, "\n%s\n\n", q.QuestionText)
	for i, letter := range model.OptionLetters {
		if letter == saved {
			b.WriteString(v.paint(v.styles.selected, fmt.Sprintf(" [*] %s. %s", letter, q.Options[i])))
		} else {
			fmt.Fprintf(&b, " [ ] %s. %s", letter, q.Options[i])
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ansi {
		v.term.ClearScreen()
	}
	io.WriteString(v.out, b.String())
}

func (v *View) OnProgress(answered, total, currentIndex int) {
	line := fmt.Sprintf("Answered %d/%d  |  viewing %d of %d", answered, total, currentIndex+1, total)
	v.printf("%s\n%s\n", v.paint(v.styles.progress, line), helpLine)
}

// OnTimerTick prints on minute boundaries and during the final ten seconds.
func (v *View) OnTimerTick(remaining int) {
	if remaining%60 != 0 && remaining > 10 {
		return
	}
	v.printf("Time left: %s\n", FormatClock(remaining))
}

func (v *View) OnWarning(message string) {
	v.printf("\n%s\n", v.paint(v.styles.warning, "!! "+message))
}

func (v *View) OnExitPromptRequested() {
	v.printf("\nLeaving the exam requires the exit password: ")
}

func (v *View) OnConfirmSubmit(unanswered int) {
	v.printf("\n%d question(s) are unanswered. Submit anyway? [y/n] ", unanswered)
}

func (v *View) OnSubmitted(score, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(score) / float64(total) * 100
	}
	line := fmt.Sprintf("Exam submitted. Score: %d/%d (%.1f%%)", score, total, pct)
	v.printf("\n%s\n", v.paint(v.styles.success, line))
}

func (v *View) OnError(message string) {
	v.printf("\n%s\n", v.paint(v.styles.err, "Error: "+message))
}

func (v *View) OnClosed(state session.State) {
	v.printf("Session closed (%s).\n", state)
}

// FormatClock renders seconds as MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// ─── Window ─────────────────────────────────────────────────────────

// Screen implements session.Window on an ANSI terminal by switching to the
// alternate screen buffer. Without ANSI it does nothing.
type Screen struct {
	mu     sync.Mutex
	term   *termenv.Output
	ansi   bool
	active bool
}

func NewScreen(out io.Writer, ansi bool) *Screen {
	return &Screen{term: termenv.NewOutput(out, termenv.WithProfile(colorProfile(ansi))), ansi: ansi}
}

var _ session.Window = (*Screen)(nil)

func (s *Screen) EnforceFullScreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ansi && !s.active {
		s.term.AltScreen()
		s.active = true
	}
}

// RelaxFullScreen is a no-op: a terminal has no always-on-top state.
func (s *Screen) RelaxFullScreen() {}

func (s *Screen) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.term.ExitAltScreen()
		s.active = false
	}
}
