package session

// Warning is a one-time threshold notice.
type Warning struct {
	Detail  string // activity log text
	Message string // shown to the student
}

var thresholds = map[int]Warning{
	300: {Detail: "5 minutes remaining.", Message: "Only 5 minutes remaining!"},
	60:  {Detail: "1 minute remaining.", Message: "Only 1 minute remaining!"},
}

// TimerEvent is the outcome of one tick.
type TimerEvent struct {
	Remaining int
	Warning   *Warning
	Expired   bool
}

// Countdown tracks the remaining seconds of a session. Remaining time is set
// once by Start and only ever decreases.
type Countdown struct {
	remaining int
	started   bool
	running   bool
	expired   bool
}

// Start sets the budget and starts the countdown. It returns false and does
// nothing if the countdown was already started.
func (c *Countdown) Start(totalSeconds int) bool {
	if c.started {
		return false
	}
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	c.started = true
	c.running = true
	c.remaining = totalSeconds
	return true
}

// Tick advances the countdown by one second. Thresholds are matched by
// equality since the counter drops by exactly one per tick.
func (c *Countdown) Tick() TimerEvent {
	if !c.running {
		return TimerEvent{Remaining: c.remaining}
	}
	if c.remaining > 0 {
		c.remaining--
	}

	ev := TimerEvent{Remaining: c.remaining}
	if w, ok := thresholds[c.remaining]; ok {
		ev.Warning = &w
	}
	if c.remaining == 0 {
		c.running = false
		c.expired = true
		ev.Expired = true
	}
	return ev
}

// Stop halts the countdown. Idempotent.
func (c *Countdown) Stop() { c.running = false }

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) Running() bool { return c.running }

// Expired reports whether the countdown ran out.
func (c *Countdown) Expired() bool { return c.expired }
