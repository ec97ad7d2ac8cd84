package protocol

import "time"

// Status channels. Persistent status describes long-lived facts (offline
// model availability); ephemeral status describes the current cycle and is
// overwritten on every transition.
const (
	StatusChannelPersistent = "persistent"
	StatusChannelEphemeral  = "ephemeral"
)

// Ephemeral status severities.
const (
	SeverityInfo    = "info"
	SeverityError   = "error"
	SeveritySuccess = "success"
)

// Status is a single status update published for the presentation layer.
type Status struct {
	Channel   string    `json:"channel"`
	Severity  string    `json:"severity,omitempty"`
	Message   string    `json:"message"`
	Busy      bool      `json:"busy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEntry is one successful recognition result, appended in
// cycle-completion order.
type TranscriptEntry struct {
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// KeyPhraseReport is the phrase-extraction outcome for one transcript
// entry. Phrases may be empty; Line carries the preformatted sink line
// either way.
type KeyPhraseReport struct {
	Seq       uint64    `json:"seq"`
	Phrases   []string  `json:"phrases"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// CycleRequest triggers one listen-transcribe-extract cycle.
type CycleRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

// ModeUpdate switches the recognition backend for subsequent cycles.
type ModeUpdate struct {
	Mode string `json:"mode"`
}

// PhraseUpdate replaces the comma-separated target phrase input. The input
// is re-parsed at the start of each cycle.
type PhraseUpdate struct {
	Raw string `json:"raw"`
}

const (
	SubjectStatusPersistent = "status.persistent"
	SubjectStatusEphemeral  = "status.ephemeral"
	SubjectTranscriptEntry  = "transcript.entry"
	SubjectPhrasesDetected  = "phrases.detected"
	SubjectCycleStart       = "cycle.start"
	SubjectCycleMode        = "cycle.mode"
	SubjectCyclePhrases     = "cycle.phrases"
)
