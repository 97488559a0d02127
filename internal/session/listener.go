package session

import "github.com/stemsi/exstem-lockdown/internal/model"

// Listener receives lifecycle callbacks. All calls are made from the
// controller loop goroutine, one at a time, and must not block.
type Listener interface {
	OnEntryPromptRequested()
	OnQuestionShown(index int, q model.Question, saved model.OptionLetter)
	OnProgress(answered, total, currentIndex int)
	OnTimerTick(remainingSeconds int)
	OnWarning(message string)
	OnExitPromptRequested()
	OnConfirmSubmit(unanswered int)
	OnSubmitted(score, total int)
	OnError(message string)
	OnClosed(state State)
}

// Window is the presentation surface the lockdown acts on.
type Window interface {
	// EnforceFullScreen maximises the window and keeps it on top.
	EnforceFullScreen()
	// RelaxFullScreen drops always-on-top once the grace window ends.
	RelaxFullScreen()
	Close()
}

type nopWindow struct{}

func (nopWindow) EnforceFullScreen() {}
func (nopWindow) RelaxFullScreen()   {}
func (nopWindow) Close()             {}
