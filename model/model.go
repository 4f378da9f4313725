package model

import "time"

type Question struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Subtext  string `json:"subtext,omitempty"`
}

type Phase string

const (
	PhasePast Phase = "past"
	PhaseNow  Phase = "now"
)

var Phases = []Phase{PhasePast, PhaseNow}

// ResponseKey is the response cache key of a question rating, e.g. "past_q1".
func ResponseKey(phase Phase, questionID string) string {
	return string(phase) + "_" + questionID
}

const (
	MinRating = 1
	MaxRating = 5

	// MaxSlots is the number of per-question column groups a stored record has.
	MaxSlots = 8

	AnonymousUser = "Anónimo"
)

// Record is a stored submission.
type Record struct {
	ID          string         `json:"id"`
	UserName    string         `json:"user_name"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Slots       [MaxSlots]Slot `json:"slots"`
	Synced      bool           `json:"synced_to_sheets"`
	SyncedAt    *time.Time     `json:"synced_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	// Fields is the full submitted payload, questions past MaxSlots
	// included.
	Fields *Payload `json:"-"`
}

type Slot struct {
	Category string `json:"category,omitempty"`
	Past     *int   `json:"past,omitempty"`
	Now      *int   `json:"now,omitempty"`
	Diff     *int   `json:"diff,omitempty"`
}

func (s Slot) Empty() bool {
	return s.Past == nil && s.Now == nil && s.Diff == nil
}
