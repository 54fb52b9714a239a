package operation

import (
	"encoding/json"
	"time"
)

type (
	Type   string
	Status string
)

const (
	TypeSync        Type = "sync"
	TypeDeduplicate Type = "deduplicate"
	TypeBackfill    Type = "backfill"
	TypeFull        Type = "full"

	StatusEnqueued  Status = "enqueued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var Types = []Type{TypeSync, TypeDeduplicate, TypeBackfill, TypeFull}

func (t Type) Valid() bool {
	for _, typ := range Types {
		if t == typ {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusEnqueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Scope narrows an operation to a classroom and/or a term. Empty fields mean "all".
type Scope struct {
	ClassroomID string `json:"classroomId,omitempty"`
	TermID      string `json:"termId,omitempty"`
}

// Overlaps reports whether two scopes may touch the same (classroom, term) unit.
func (s Scope) Overlaps(other Scope) bool {
	classrooms := s.ClassroomID == "" || other.ClassroomID == "" || s.ClassroomID == other.ClassroomID
	terms := s.TermID == "" || other.TermID == "" || s.TermID == other.TermID
	return classrooms && terms
}

// Options tune what a sync operation is allowed to change.
type Options struct {
	// ApplyAmountChanges lets sync rewrite the amount of records that differ from the current structure.
	ApplyAmountChanges bool `json:"applyAmountChanges,omitempty"`
}

type Summary struct {
	Created           int      `json:"created"`
	Updated           int      `json:"updated"`
	Attempted         int      `json:"attempted"`
	DuplicatesFound   int      `json:"duplicatesFound"`
	DuplicatesRemoved int      `json:"duplicatesRemoved"`
	FeesBackfilled    int      `json:"feesBackfilled"`
	AmountMismatches  int      `json:"amountMismatches"`
	OrphanedRecords   int      `json:"orphanedRecords"`
	Errors            []string `json:"errors"`
}

// MarshalJSON always writes errors as an array.
func (s Summary) MarshalJSON() ([]byte, error) {
	type summary Summary
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return json.Marshal(summary(s))
}

func (s *Summary) Add(o Summary) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Attempted += o.Attempted
	s.DuplicatesFound += o.DuplicatesFound
	s.DuplicatesRemoved += o.DuplicatesRemoved
	s.FeesBackfilled += o.FeesBackfilled
	s.AmountMismatches += o.AmountMismatches
	s.OrphanedRecords += o.OrphanedRecords
	s.Errors = append(s.Errors, o.Errors...)
}

// UnitResult is the outcome of an operation on one (classroom, term) unit.
type UnitResult struct {
	ClassroomID   string   `json:"classroomId"`
	ClassroomName string   `json:"classroomName"`
	TermID        string   `json:"termId"`
	TermName      string   `json:"termName"`
	Session       string   `json:"session"`
	Summary       Summary  `json:"summary"`
	Errors        []string `json:"errors,omitempty"`
}

// Outcome is what a job hands back to the tracker once it is done.
type Outcome struct {
	Summary Summary
	Results []UnitResult
	Errors  []string
}

// Operation is a tracked, asynchronous reconciliation run.
// Status moves enqueued -> running -> completed|failed and never changes once terminal.
// The scope's classroomId and termId are written at the top level.
type Operation struct {
	ID     string `json:"operationId"`
	Type   Type   `json:"type"`
	Status Status `json:"status"`
	Scope
	Options    Options      `json:"options"`
	Summary    Summary      `json:"summary"`
	Errors     []string     `json:"errors"`
	Results    []UnitResult `json:"results"`
	CreatedAt  time.Time    `json:"createdAt"`            // UTC
	StartedAt  *time.Time   `json:"startedAt,omitempty"`  // UTC
	FinishedAt *time.Time   `json:"finishedAt,omitempty"` // UTC
	DurationMS int64        `json:"durationMs"`
}

type QueryFilter struct {
	Status Status
	Type   Type
	Limit  int
}
