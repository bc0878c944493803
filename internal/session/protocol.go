package session

import (
	"encoding/json"
	"fmt"
)

// SummaryToken in sourceLang requests a summary instead of a translation.
const SummaryToken = "summary"

// NoTranscriptMessage answers a summary request before anything was transcribed.
const NoTranscriptMessage = "No transcript available to summarize yet."

// State is a position in the per-connection protocol.
type State int

const (
	AwaitingSelection State = iota
	AwaitingAudio
	Processing
	Summarizing
)

func (s State) String() string {
	switch s {
	case AwaitingSelection:
		return "awaiting_selection"
	case AwaitingAudio:
		return "awaiting_audio"
	case Processing:
		return "processing"
	case Summarizing:
		return "summarizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Selection is the JSON text message that opens every cycle.
type Selection struct {
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

func (s Selection) IsSummary() bool { return s.SourceLang == SummaryToken }

// ProtocolError is a message that arrived in the wrong state or could not be
// parsed. It ends the session.
type ProtocolError struct {
	State  State
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %s", e.State, e.Reason)
}

// ParseSelection decodes a selection message. Both keys must be present;
// targetLang may be empty for summary requests.
func ParseSelection(data []byte) (Selection, error) {
	var raw struct {
		SourceLang *string `json:"sourceLang"`
		TargetLang *string `json:"targetLang"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Selection{}, &ProtocolError{State: AwaitingSelection, Reason: "invalid selection json: " + err.Error()}
	}
	if raw.SourceLang == nil || *raw.SourceLang == "" {
		return Selection{}, &ProtocolError{State: AwaitingSelection, Reason: "selection missing sourceLang"}
	}
	if raw.TargetLang == nil {
		return Selection{}, &ProtocolError{State: AwaitingSelection, Reason: "selection missing targetLang"}
	}
	return Selection{SourceLang: *raw.SourceLang, TargetLang: *raw.TargetLang}, nil
}
