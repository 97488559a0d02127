// Package session runs one student's attempt at one exam: entry and exit
// authentication, the countdown, answer tracking, lockdown enforcement and
// exactly-once submission.
//
// All session state is owned by a single loop goroutine (Controller.Run).
// Commands, ticker ticks and the results of background persistence calls
// reach it as messages; nothing else mutates session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/logger"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/service"
)

// State is the controller's position in the session lifecycle.
type State int

const (
	StateAwaitingEntryAuth State = iota
	StateLoading
	StateInProgress
	StateExitPromptPending
	StateSubmitting
	StateCompleted
	StateReleased
	// StateTimeUp is reached when a time-expired submission failed. Answers
	// are frozen and only a submission retry or an exit is accepted.
	StateTimeUp
)

func (s State) String() string {
	switch s {
	case StateAwaitingEntryAuth:
		return "awaiting_entry_auth"
	case StateLoading:
		return "loading"
	case StateInProgress:
		return "in_progress"
	case StateExitPromptPending:
		return "exit_prompt_pending"
	case StateSubmitting:
		return "submitting"
	case StateCompleted:
		return "completed"
	case StateReleased:
		return "released"
	case StateTimeUp:
		return "time_up"
	}
	return "unknown"
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateReleased
}

// User-facing text.
const (
	msgIncorrectPassword     = "Incorrect password."
	msgIncorrectExitPassword = "Incorrect exit password. Exam window will remain open."
	msgEntryPasswordNotSet   = "Exam entry password is not set."
	msgExitPasswordNotSet    = "Exam exit password is not set."
	msgNoQuestions           = "No questions found for this exam."
	msgNoQuestionsTransfer   = "No questions received from transfer."
	msgBundleMismatch        = "Received exam does not match the selected exam."
	msgInactivity            = "No activity detected for over %s. Please remain active in the exam window."
	msgSubmitFailed          = "An error occurred while submitting your exam: "

	detailWindowSwitch = "Window lost focus (possible alt-tab or application switch)."
	detailInactivity   = "No mouse/keyboard activity for over %s."
	detailTimeUp       = "Exam time expired. Auto-submitting."
)

// Outcome is what Run returns once the session ends.
type Outcome struct {
	State  State
	Result *model.Result
	// Err is the last failure surfaced to the student, if any.
	Err error
}

// Snapshot is a consistent read of session state taken on the loop.
type Snapshot struct {
	State          State
	Lockdown       LockdownState
	CurrentIndex   int
	Answered       int
	Total          int
	Remaining      int
	Answers        map[int64]model.OptionLetter
	ConfirmPending bool
	SubmitInFlight bool
	Submitted      bool
	InGrace        bool
	Result         *model.Result
}

type message interface{}

type (
	entryPasswordMsg struct{ password string }
	cancelEntryMsg   struct{}
	navigateMsg      struct {
		delta    int
		absolute bool
		index    int
	}
	selectOptionMsg  struct{ letter model.OptionLetter }
	requestSubmitMsg struct{}
	confirmSubmitMsg struct{}
	cancelSubmitMsg  struct{}
	signalMsg        struct{ sig Signal }
	exitPasswordMsg  struct{ password string }
	cancelExitMsg    struct{}
	snapshotMsg      struct{ reply chan Snapshot }

	entryVerifiedMsg struct {
		ok  bool
		err error
	}
	bundleLoadedMsg struct {
		bundle *model.TransferBundle
		err    error
	}
	exitVerifiedMsg struct {
		seq uint64
		ok  bool
		err error
	}
	submitFinishedMsg struct {
		result *model.Result
		err    error
	}
)

const inboxSize = 64

// Controller is the session state machine.
type Controller struct {
	opts     Options
	timing   Timing
	sched    Scheduler
	listener Listener
	window   Window
	activity ActivityRecorder
	log      zerolog.Logger
	idleText string

	inbox   chan message
	done    chan struct{}
	running atomic.Bool
	final   Snapshot

	// Owned by the loop goroutine.
	ctx            context.Context
	state          State
	resume         State
	exam           model.Exam
	fromTransfer   bool
	answers        *AnswerStore
	index          int
	countdown      Countdown
	monitor        *Monitor
	timer          Ticker
	idle           Ticker
	grace          Ticker
	entryVerifying bool
	exitVerifying  bool
	exitSeq        uint64
	confirmPending bool
	submitGuard    bool
	forcedSubmit   bool
	submitted      bool
	result         *model.Result
	outcome        Outcome
	finished       bool
}

// New validates opts and builds a controller. Call Run to start it.
func New(opts Options) (*Controller, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	timing := opts.Timing.withDefaults()
	c := &Controller{
		opts:     opts,
		timing:   timing,
		sched:    opts.Scheduler,
		listener: opts.Listener,
		window:   opts.Window,
		activity: opts.Activity,
		idleText: humanDuration(timing.IdleLimit),
		inbox:    make(chan message, inboxSize),
		done:     make(chan struct{}),
		answers:  NewAnswerStore(),
		monitor:  NewMonitor(timing.IdleLimit, timing.Grace),
	}
	if c.sched == nil {
		c.sched = SystemScheduler{}
	}
	if c.window == nil {
		c.window = nopWindow{}
	}
	if c.activity == nil {
		c.activity = nopRecorder{}
	}

	c.log = logger.Session(opts.Log, opts.StudentID, opts.ExamID, uuid.NewString()).
		With().Str("component", "session_controller").Logger()
	return c, nil
}

// Run drives the session until it completes, is released, or ctx is
// cancelled. It may be called once.
func (c *Controller) Run(ctx context.Context) Outcome {
	if !c.running.CompareAndSwap(false, true) {
		return Outcome{Err: ErrAlreadyRunning}
	}

	// Persistence calls in flight are not cancelled; their results are
	// discarded once the session is over.
	c.ctx = context.WithoutCancel(ctx)
	c.log.Info().Msg("Session started")
	c.begin()

	for !c.finished {
		select {
		case <-ctx.Done():
			c.outcome.Err = ctx.Err()
			c.finish(c.state)
		case m := <-c.inbox:
			c.handle(m)
		case <-tickerC(c.timer):
			c.onTimerTick()
		case <-tickerC(c.idle):
			c.onIdleCheck()
		case <-tickerC(c.grace):
			c.onGraceTick()
		}
	}

	c.final = c.snapshot()
	close(c.done)
	return c.outcome
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// ─── Commands ───────────────────────────────────────────────────────

func (c *Controller) SubmitEntryPassword(password string) error {
	return c.post(entryPasswordMsg{password: password})
}

func (c *Controller) CancelEntry() error { return c.post(cancelEntryMsg{}) }

func (c *Controller) Next() error { return c.post(navigateMsg{delta: 1}) }

func (c *Controller) Previous() error { return c.post(navigateMsg{delta: -1}) }

// GoTo jumps to a question by 0-based index. Out-of-range indices are ignored.
func (c *Controller) GoTo(index int) error {
	return c.post(navigateMsg{absolute: true, index: index})
}

// SelectOption answers the current question.
func (c *Controller) SelectOption(letter model.OptionLetter) error {
	return c.post(selectOptionMsg{letter: letter})
}

// RequestSubmit asks for confirmation when questions are unanswered,
// otherwise submits.
func (c *Controller) RequestSubmit() error { return c.post(requestSubmitMsg{}) }

func (c *Controller) ConfirmSubmit() error { return c.post(confirmSubmitMsg{}) }

func (c *Controller) CancelSubmit() error { return c.post(cancelSubmitMsg{}) }

// Signal feeds an environment event to the lockdown monitor.
func (c *Controller) Signal(sig Signal) error { return c.post(signalMsg{sig: sig}) }

// RequestExit starts the exit challenge, like a close request.
func (c *Controller) RequestExit() error { return c.Signal(SignalCloseRequested) }

func (c *Controller) SubmitExitPassword(password string) error {
	return c.post(exitPasswordMsg{password: password})
}

func (c *Controller) CancelExit() error { return c.post(cancelExitMsg{}) }

// Snapshot returns the current state, or the final state once Run returned.
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if err := c.post(snapshotMsg{reply: reply}); err != nil {
		return c.final
	}
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return c.final
	}
}

func (c *Controller) post(m message) error {
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}
	select {
	case c.inbox <- m:
		return nil
	case <-c.done:
		return ErrSessionClosed
	}
}

// spawn runs task off the loop and posts its result back.
func (c *Controller) spawn(task func(ctx context.Context) message) {
	ctx := c.ctx
	go func() {
		_ = c.post(task(ctx))
	}()
}

func (c *Controller) handle(m message) {
	switch m := m.(type) {
	case entryPasswordMsg:
		c.onEntryPassword(m.password)
	case cancelEntryMsg:
		if c.state == StateAwaitingEntryAuth {
			c.log.Info().Msg("Entry cancelled")
			c.finish(StateReleased)
		}
	case entryVerifiedMsg:
		c.onEntryVerified(m)
	case bundleLoadedMsg:
		c.onBundleLoaded(m)
	case navigateMsg:
		c.onNavigate(m)
	case selectOptionMsg:
		c.onSelectOption(m.letter)
	case requestSubmitMsg:
		c.onRequestSubmit()
	case confirmSubmitMsg:
		if c.state == StateInProgress && c.confirmPending && !c.submitGuard {
			c.beginSubmit(false)
		}
	case cancelSubmitMsg:
		c.confirmPending = false
	case submitFinishedMsg:
		c.onSubmitFinished(m)
	case signalMsg:
		c.onSignal(m.sig)
	case exitPasswordMsg:
		c.onExitPassword(m.password)
	case exitVerifiedMsg:
		c.onExitVerified(m)
	case cancelExitMsg:
		if c.state == StateExitPromptPending {
			c.exitSeq++
			c.exitVerifying = false
			c.denyExit()
		}
	case snapshotMsg:
		m.reply <- c.snapshot()
	}
}

// ─── Entry & loading ────────────────────────────────────────────────

func (c *Controller) begin() {
	if c.opts.EntryAuthenticated {
		c.startLoading()
		return
	}
	c.state = StateAwaitingEntryAuth
	c.listener.OnEntryPromptRequested()
}

func (c *Controller) onEntryPassword(password string) {
	if c.state != StateAwaitingEntryAuth || c.entryVerifying {
		return
	}
	c.entryVerifying = true

	creds, examID := c.opts.Credentials, c.opts.ExamID
	c.spawn(func(ctx context.Context) message {
		ok, err := creds.Verify(ctx, examID, model.PasswordEntry, password)
		return entryVerifiedMsg{ok: ok, err: err}
	})
}

func (c *Controller) onEntryVerified(m entryVerifiedMsg) {
	if c.state != StateAwaitingEntryAuth {
		return
	}
	c.entryVerifying = false

	if m.err != nil || !m.ok {
		msg, err := credentialFailure(model.PasswordEntry, m.err)
		c.log.Warn().Err(err).Msg("Entry denied")
		c.listener.OnError(msg)
		c.outcome.Err = err
		c.finish(StateReleased)
		return
	}

	c.log.Info().Msg("Entry password accepted")
	c.startLoading()
}

func (c *Controller) startLoading() {
	c.state = StateLoading
	if c.opts.Bundle != nil {
		c.fromTransfer = true
		c.onBundleLoaded(bundleLoadedMsg{bundle: c.opts.Bundle})
		return
	}

	exams, examID := c.opts.Exams, c.opts.ExamID
	c.spawn(func(ctx context.Context) message {
		b, err := exams.LoadBundle(ctx, examID)
		return bundleLoadedMsg{bundle: b, err: err}
	})
}

func (c *Controller) onBundleLoaded(m bundleLoadedMsg) {
	if c.state != StateLoading {
		return
	}

	if m.err != nil {
		c.log.Error().Err(m.err).Msg("Failed to load exam")
		c.listener.OnError("Error loading questions: " + m.err.Error())
		c.outcome.Err = fmt.Errorf("%w: %w", ErrPersistenceUnavailable, m.err)
		c.finish(StateReleased)
		return
	}

	b := m.bundle
	if b == nil || b.Exam.ID != c.opts.ExamID {
		c.listener.OnError(msgBundleMismatch)
		c.outcome.Err = ErrTransferFailed
		c.finish(StateReleased)
		return
	}

	if len(b.Questions) == 0 {
		msg := msgNoQuestions
		if c.fromTransfer {
			msg = msgNoQuestionsTransfer
		}
		c.log.Warn().Msg("Exam has no questions")
		c.listener.OnWarning(msg)
		c.outcome.Err = ErrNoQuestions
		c.finish(StateReleased)
		return
	}

	if err := c.answers.Load(b.Questions); err != nil {
		c.listener.OnError(err.Error())
		c.outcome.Err = err
		c.finish(StateReleased)
		return
	}
	c.exam = b.Exam

	c.countdown.Start(c.exam.DurationSeconds())
	c.timer = c.sched.NewTicker(c.timing.Tick)
	c.monitor.Arm(c.sched.Now())
	c.idle = c.sched.NewTicker(c.timing.IdleCheck)
	c.window.EnforceFullScreen()
	c.state = StateInProgress

	c.log.Info().
		Int("questions", c.answers.TotalCount()).
		Int("duration_seconds", c.exam.DurationSeconds()).
		Bool("transfer", c.fromTransfer).
		Msg("Exam loaded")

	c.listener.OnTimerTick(c.countdown.Remaining())
	c.show(0)
}

// ─── Navigation & answers ───────────────────────────────────────────

func (c *Controller) show(i int) {
	q, ok := c.answers.Question(i)
	if !ok {
		return
	}
	c.index = i
	saved, _ := c.answers.AnswerFor(q.ID)
	c.listener.OnQuestionShown(i, q, saved)
	c.listener.OnProgress(c.answers.AnsweredCount(), c.answers.TotalCount(), i)
}

func (c *Controller) onNavigate(m navigateMsg) {
	if c.state != StateInProgress {
		return
	}
	c.touch()

	target := c.index + m.delta
	if m.absolute {
		target = m.index
	}
	if target < 0 || target >= c.answers.TotalCount() {
		return
	}
	c.show(target)
}

func (c *Controller) onSelectOption(letter model.OptionLetter) {
	if c.state != StateInProgress {
		return
	}
	c.touch()

	q, ok := c.answers.Question(c.index)
	if !ok {
		return
	}
	if err := c.answers.SetAnswer(q.ID, letter); err != nil {
		c.log.Warn().Err(err).Int64("question_id", q.ID).Msg("Answer rejected")
		return
	}
	c.listener.OnProgress(c.answers.AnsweredCount(), c.answers.TotalCount(), c.index)
}

func (c *Controller) touch() { c.monitor.Touch(c.sched.Now()) }

// ─── Submission ─────────────────────────────────────────────────────

func (c *Controller) onRequestSubmit() {
	if c.submitGuard {
		return
	}
	switch c.state {
	case StateTimeUp:
		c.beginSubmit(true)
	case StateInProgress:
		c.touch()
		unanswered := c.answers.TotalCount() - c.answers.AnsweredCount()
		if unanswered > 0 {
			c.confirmPending = true
			c.listener.OnConfirmSubmit(unanswered)
			return
		}
		c.beginSubmit(false)
	}
}

// beginSubmit sets the submit guard synchronously on the loop, so at most
// one submission can be in flight whatever triggered it.
func (c *Controller) beginSubmit(forced bool) {
	c.submitGuard = true
	c.confirmPending = false
	c.forcedSubmit = forced
	c.state = StateSubmitting

	submitter := c.opts.Submitter
	studentID, examID := c.opts.StudentID, c.opts.ExamID
	questions := c.answers.Questions()
	answers := c.answers.Answers()

	c.log.Info().Bool("forced", forced).Int("answered", len(answers)).Msg("Submitting exam")
	c.spawn(func(ctx context.Context) message {
		res, err := submitter.Submit(ctx, studentID, examID, questions, answers)
		return submitFinishedMsg{result: res, err: err}
	})
}

func (c *Controller) onSubmitFinished(m submitFinishedMsg) {
	if c.state != StateSubmitting {
		return
	}

	if m.err == nil && m.result == nil {
		m.err = errors.New("no result returned")
	}
	if m.err != nil {
		c.submitGuard = false
		c.log.Error().Err(m.err).Msg("Submission failed")
		c.outcome.Err = fmt.Errorf("%w: %w", ErrSubmissionFailed, m.err)
		if c.forcedSubmit || c.countdown.Expired() {
			c.state = StateTimeUp
		} else {
			c.state = StateInProgress
		}
		c.listener.OnError(msgSubmitFailed + m.err.Error())
		c.listener.OnProgress(c.answers.AnsweredCount(), c.answers.TotalCount(), c.index)
		return
	}

	c.submitted = true
	c.result = m.result
	c.outcome.Err = nil
	c.log.Info().Int("score", m.result.Score).Int("total", m.result.TotalQuestions).Msg("Exam submitted")

	c.window.Close()
	c.listener.OnSubmitted(m.result.Score, m.result.TotalQuestions)
	c.finish(StateCompleted)
}

// ─── Timer & inactivity ─────────────────────────────────────────────

func (c *Controller) onTimerTick() {
	if !c.countdown.Running() {
		return
	}
	ev := c.countdown.Tick()
	c.listener.OnTimerTick(ev.Remaining)

	if ev.Warning != nil {
		c.record(model.ActivityTimerWarning, ev.Warning.Detail)
		c.listener.OnWarning(ev.Warning.Message)
	}
	if ev.Expired {
		stopTicker(&c.timer)
		c.record(model.ActivityTimeUp, detailTimeUp)
		c.log.Info().Msg("Time up")
		c.onTimeUp()
	}
}

// onTimeUp forces submission without confirmation. A pending exit prompt is
// abandoned.
func (c *Controller) onTimeUp() {
	if c.submitGuard {
		return
	}
	switch c.state {
	case StateExitPromptPending:
		if c.resume != StateInProgress {
			return
		}
		c.exitSeq++
		c.exitVerifying = false
		c.monitor.Abandon()
		c.beginSubmit(true)
	case StateInProgress:
		c.beginSubmit(true)
	}
}

func (c *Controller) onIdleCheck() {
	if c.state != StateInProgress && c.state != StateExitPromptPending {
		return
	}
	if !c.monitor.IdleExceeded(c.sched.Now()) {
		return
	}
	c.record(model.ActivityInactivity, fmt.Sprintf(detailInactivity, c.idleText))
	c.listener.OnWarning(fmt.Sprintf(msgInactivity, c.idleText))
}

// ─── Lockdown ───────────────────────────────────────────────────────

func (c *Controller) onSignal(sig Signal) {
	switch c.state {
	case StateInProgress, StateExitPromptPending, StateTimeUp:
	default:
		return
	}

	if sig == SignalActivity {
		c.touch()
		return
	}
	if sig == SignalFocusLost {
		c.record(model.ActivityWindowSwitch, detailWindowSwitch)
	}
	if c.state == StateExitPromptPending || !c.monitor.Trigger(sig) {
		return
	}

	c.resume = c.state
	c.state = StateExitPromptPending
	c.confirmPending = false
	c.exitSeq++
	c.log.Info().Str("signal", sig.String()).Msg("Exit challenge requested")
	c.listener.OnExitPromptRequested()
}

func (c *Controller) onExitPassword(password string) {
	if c.state != StateExitPromptPending || c.exitVerifying {
		return
	}
	c.exitVerifying = true

	creds, examID, seq := c.opts.Credentials, c.opts.ExamID, c.exitSeq
	c.spawn(func(ctx context.Context) message {
		ok, err := creds.Verify(ctx, examID, model.PasswordExit, password)
		return exitVerifiedMsg{seq: seq, ok: ok, err: err}
	})
}

func (c *Controller) onExitVerified(m exitVerifiedMsg) {
	if c.state != StateExitPromptPending || m.seq != c.exitSeq {
		return
	}
	c.exitVerifying = false

	if m.err == nil && m.ok {
		c.monitor.PromptResolved(true, c.sched.Now())
		c.log.Info().Msg("Exit password accepted, releasing session")
		c.window.Close()
		c.finish(StateReleased)
		return
	}

	msg, err := credentialFailure(model.PasswordExit, m.err)
	c.log.Warn().Err(err).Msg("Exit denied")
	c.listener.OnError(msg)
	c.denyExit()
}

// denyExit keeps the session locked: full-screen is re-asserted at once and
// on every grace tick until the grace window closes.
func (c *Controller) denyExit() {
	c.monitor.PromptResolved(false, c.sched.Now())
	c.state = c.resume
	c.window.EnforceFullScreen()
	if c.grace == nil {
		c.grace = c.sched.NewTicker(c.timing.GraceInterval)
	}
	c.show(c.index)
}

func (c *Controller) onGraceTick() {
	if c.monitor.InGrace(c.sched.Now()) {
		c.window.EnforceFullScreen()
		return
	}
	stopTicker(&c.grace)
	c.monitor.EndGrace()
	c.window.RelaxFullScreen()
}

// ─── Helpers ────────────────────────────────────────────────────────

func (c *Controller) record(t model.ActivityType, detail string) {
	entry := model.ActivityLogEntry{
		StudentID: c.opts.StudentID,
		ExamID:    c.opts.ExamID,
		EventType: t,
		Detail:    detail,
		Timestamp: c.sched.Now(),
	}
	c.log.Info().Str("event_type", string(t)).Msg("Activity")

	rec, ctx := c.activity, c.ctx
	go rec.Record(ctx, entry)
}

func (c *Controller) finish(s State) {
	c.state = s
	c.countdown.Stop()
	stopTicker(&c.timer)
	stopTicker(&c.idle)
	stopTicker(&c.grace)
	c.monitor.Disarm()
	c.confirmPending = false

	c.finished = true
	c.outcome.State = s
	c.outcome.Result = c.result

	c.log.Info().Str("state", s.String()).Msg("Session closed")
	c.listener.OnClosed(s)
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		State:          c.state,
		Lockdown:       c.monitor.State(),
		CurrentIndex:   c.index,
		Answered:       c.answers.AnsweredCount(),
		Total:          c.answers.TotalCount(),
		Remaining:      c.countdown.Remaining(),
		Answers:        c.answers.Answers(),
		ConfirmPending: c.confirmPending,
		SubmitInFlight: c.submitGuard && !c.submitted,
		Submitted:      c.submitted,
		InGrace:        c.grace != nil,
		Result:         c.result,
	}
}

func credentialFailure(kind model.PasswordKind, err error) (string, error) {
	switch {
	case err == nil:
		if kind == model.PasswordExit {
			return msgIncorrectExitPassword, ErrAuthenticationFailed
		}
		return msgIncorrectPassword, ErrAuthenticationFailed
	case errors.Is(err, service.ErrPasswordNotSet):
		if kind == model.PasswordExit {
			return msgExitPasswordNotSet, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return msgEntryPasswordNotSet, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	default:
		return "Error retrieving password: " + err.Error(), fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
}

func tickerC(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func stopTicker(t *Ticker) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func humanDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d%time.Second == 0:
		return plural(int(d/time.Second), "second")
	}
	return d.String()
}
