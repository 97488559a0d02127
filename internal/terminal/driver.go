package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/session"
)

const helpLine = "Commands: a-d answer | n next | p prev | g <n> go to | s submit | x exit | h help"

// Session is the part of *session.Controller the driver uses.
type Session interface {
	SubmitEntryPassword(password string) error
	CancelEntry() error
	Next() error
	Previous() error
	GoTo(index int) error
	SelectOption(letter model.OptionLetter) error
	RequestSubmit() error
	ConfirmSubmit() error
	CancelSubmit() error
	Signal(sig session.Signal) error
	RequestExit() error
	SubmitExitPassword(password string) error
	CancelExit() error
	Snapshot() session.Snapshot
	Done() <-chan struct{}
}

// PasswordReader reads one secret without echo. Nil falls back to plain
// line input.
type PasswordReader func() (string, error)

// Driver reads commands from in and forwards them to a session.
type Driver struct {
	sess         Session
	in           *bufio.Reader
	out          io.Writer
	readPassword PasswordReader
	log          zerolog.Logger
}

func NewDriver(sess Session, in io.Reader, out io.Writer, readPassword PasswordReader, log zerolog.Logger) *Driver {
	return &Driver{
		sess:         sess,
		in:           bufio.NewReader(in),
		out:          out,
		readPassword: readPassword,
		log:          log.With().Str("component", "terminal_driver").Logger(),
	}
}

// Run feeds input to the session until it ends, ctx is cancelled or input
// is exhausted. A blocked read is not interrupted; callers exit the process
// once the session is done.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.sess.Done():
			return nil
		default:
		}

		snap := d.sess.Snapshot()
		if snap.State.Terminal() {
			return nil
		}

		line, err := d.read(snap)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := d.Handle(snap, line); err != nil {
			if errors.Is(err, session.ErrSessionClosed) {
				return nil
			}
			d.log.Debug().Err(err).Msg("Command rejected")
		}
	}
}

func (d *Driver) read(snap session.Snapshot) (string, error) {
	if d.readPassword != nil && passwordMode(snap.State) {
		return d.readPassword()
	}
	line, err := d.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func passwordMode(s session.State) bool {
	return s == session.StateAwaitingEntryAuth || s == session.StateExitPromptPending
}

// Handle interprets one line of input given the state it was typed in.
func (d *Driver) Handle(snap session.Snapshot, line string) error {
	switch snap.State {
	case session.StateAwaitingEntryAuth:
		if line == "" {
			return d.sess.CancelEntry()
		}
		return d.sess.SubmitEntryPassword(line)

	case session.StateExitPromptPending:
		if line == "" {
			return d.sess.CancelExit()
		}
		return d.sess.SubmitExitPassword(line)

	case session.StateLoading, session.StateSubmitting:
		return nil
	}

	// Any keystroke counts as activity for the inactivity check.
	if err := d.sess.Signal(session.SignalActivity); err != nil {
		return err
	}

	cmd := strings.ToLower(strings.TrimSpace(line))
	if snap.ConfirmPending {
		switch cmd {
		case "y", "yes":
			return d.sess.ConfirmSubmit()
		default:
			return d.sess.CancelSubmit()
		}
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "n", "next":
		return d.sess.Next()
	case "p", "prev", "previous":
		return d.sess.Previous()
	case "g", "go", "goto":
		if len(fields) < 2 {
			return d.usage("g <question number>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return d.usage("g <question number>")
		}
		return d.sess.GoTo(n - 1)
	case "s", "submit":
		return d.sess.RequestSubmit()
	case "x", "exit", "quit":
		return d.sess.RequestExit()
	case "h", "help", "?":
		fmt.Fprintln(d.out, helpLine)
		return nil
	}

	if letter, ok := model.ParseOptionLetter(fields[0]); ok {
		return d.sess.SelectOption(letter)
	}
	return d.usage(helpLine)
}

func (d *Driver) usage(text string) error {
	fmt.Fprintln(d.out, "Unrecognised command.", text)
	return nil
}
