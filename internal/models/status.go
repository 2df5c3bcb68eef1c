package models

// transitions lists the forward edges of the meeting state machine. Edges out of
// FAILED are manual restarts of the stage that failed.
var transitions = map[Status][]Status{
	StatusRecording:      {StatusProcessingSTT, StatusFailed},
	StatusProcessingSTT:  {StatusProcessingLLM, StatusFailed},
	StatusProcessingLLM:  {StatusReadyForReview, StatusFailed},
	StatusReadyForReview: {StatusFinalized},
	StatusFailed:         {StatusProcessingSTT, StatusProcessingLLM},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRecording, StatusProcessingSTT, StatusProcessingLLM,
		StatusReadyForReview, StatusFinalized, StatusFailed:
		return true
	}
	return false
}

// InFlight reports whether a remote stage is expected to be running.
func (s Status) InFlight() bool {
	return s == StatusProcessingSTT || s == StatusProcessingLLM
}

// Terminal reports whether no further pipeline work can happen without a restart.
func (s Status) Terminal() bool {
	return s == StatusFinalized
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanUpload reports whether audio may be (re)attached in status s.
func CanUpload(s Status) bool {
	return s == StatusRecording || s == StatusFailed
}
