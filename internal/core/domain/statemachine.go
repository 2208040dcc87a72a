package domain

import "fmt"

// callTransitions is the full lifecycle graph. uploaded is initial; completed
// is terminal; failed may re-enter transcribing on a deliberate retry.
var callTransitions = map[CallStatus][]CallStatus{
	StatusUploaded:     {StatusTranscribing},
	StatusTranscribing: {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:    {StatusCompleted, StatusFailed},
	StatusCompleted:    {},
	StatusFailed:       {StatusTranscribing},
}

func CanTransition(from, to CallStatus) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Processable reports whether a queued job for a call in this status should
// run. Anything else is a stale or duplicate delivery.
func (s CallStatus) Processable() bool {
	return s == StatusUploaded || s == StatusFailed
}

// CheckTransition validates a transition against the lifecycle graph together
// with the invariants tying status to error message and duration.
func CheckTransition(from, to CallStatus, update StatusUpdate) error {
	if !CanTransition(from, to) {
		return WrapError(ErrInvalidTransition, "check transition", fmt.Errorf("%s -> %s", from, to))
	}
	if to == StatusFailed && update.ErrorMessage == "" {
		return WrapError(ErrInvalidTransition, "check transition", fmt.Errorf("transition to %s requires an error message", StatusFailed))
	}
	if to != StatusFailed && update.ErrorMessage != "" {
		return WrapError(ErrInvalidTransition, "check transition", fmt.Errorf("error message is only valid for %s", StatusFailed))
	}
	return nil
}
