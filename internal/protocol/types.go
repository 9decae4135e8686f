// internal/protocol/types.go
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a diagnostic session
type Status string

const (
	StatusInProgress       Status = "in_progress"
	StatusPendingUserInput Status = "pending_user_input"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Open reports whether the session still counts against the
// one-open-session-per-(plant, problem) rule
func (s Status) Open() bool {
	return s == StatusInProgress || s == StatusPendingUserInput
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusPendingUserInput, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusInProgress:
		return next.Valid()
	case StatusPendingUserInput:
		return next == StatusInProgress || next == StatusFailed
	default:
		return false
	}
}

// Role identifies who produced a conversation turn
type Role string

const (
	RoleAI   Role = "ai"
	RoleUser Role = "user"
)

// Turn is one exchange unit: an AI question or a user reply
type Turn struct {
	Seq       int       `json:"seq" yaml:"seq"`
	Role      Role      `json:"role" yaml:"role"`
	Text      string    `json:"text" yaml:"text"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Hypothesis is intermediate reasoning state logged by generated logic.
// Entries are never edited after they are written.
type Hypothesis struct {
	Seq       int       `json:"seq" yaml:"seq"`
	Key       string    `json:"key" yaml:"key"`
	Value     string    `json:"value" yaml:"value"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// VitalsSnapshot records plant vitals fetched in response to GET_PLANT_VITALS
type VitalsSnapshot struct {
	Seq       int         `json:"seq" yaml:"seq"`
	Vitals    PlantVitals `json:"vitals" yaml:"vitals"`
	Reason    string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`
}

// FailureKind classifies why a session ended in StatusFailed
type FailureKind string

const (
	FailureReasoningTransient   FailureKind = "reasoning_transient"
	FailureReasoningPermanent   FailureKind = "reasoning_permanent"
	FailureSandboxSyntax        FailureKind = "sandbox_syntax"
	FailureSandboxRuntime       FailureKind = "sandbox_runtime"
	FailureSandboxTimeout       FailureKind = "sandbox_timeout"
	FailureSandboxResourceLimit FailureKind = "sandbox_resource_limit"
	FailureSandboxInvalidAction FailureKind = "sandbox_invalid_action"
	FailureLoopExceeded         FailureKind = "loop_exceeded"
	FailurePlantNotFound        FailureKind = "plant_not_found"
)

// Failure is recorded in place of a finding when a session fails
type Failure struct {
	Kind   FailureKind `json:"kind" yaml:"kind"`
	Reason string      `json:"reason" yaml:"reason"`
}

// Session is one diagnostic conversation for a plant and problem
type Session struct {
	ID             string           `json:"id" yaml:"id"`
	PlantID        string           `json:"plant_id" yaml:"plant_id"`
	Problem        string           `json:"problem" yaml:"problem"`
	Status         Status           `json:"status" yaml:"status"`
	Turns          []Turn           `json:"turns" yaml:"turns"`
	Hypotheses     []Hypothesis     `json:"hypotheses" yaml:"hypotheses"`
	Vitals         []VitalsSnapshot `json:"vitals" yaml:"vitals"`
	Finding        string           `json:"finding,omitempty" yaml:"finding,omitempty"`
	Recommendation string           `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	Failure        *Failure         `json:"failure,omitempty" yaml:"failure,omitempty"`
	CreatedAt      time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" yaml:"updated_at"`
}

// LatestQuestion returns the most recent AI turn text, if any
func (s *Session) LatestQuestion() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleAI {
			return s.Turns[i].Text
		}
	}
	return ""
}

// View projects the session into what collaborators are shown
func (s *Session) View() *SessionView {
	v := &SessionView{
		SessionID: s.ID,
		PlantID:   s.PlantID,
		Status:    s.Status,
	}
	switch s.Status {
	case StatusPendingUserInput:
		v.Question = s.LatestQuestion()
	case StatusCompleted:
		v.Finding = s.Finding
		v.Recommendation = s.Recommendation
	case StatusFailed:
		v.Failure = s.Failure
	}
	return v
}

// SessionView is returned from Start and Resume
type SessionView struct {
	SessionID      string   `json:"session_id" yaml:"session_id"`
	PlantID        string   `json:"plant_id" yaml:"plant_id"`
	Status         Status   `json:"status" yaml:"status"`
	Question       string   `json:"question,omitempty" yaml:"question,omitempty"`
	Finding        string   `json:"finding,omitempty" yaml:"finding,omitempty"`
	Recommendation string   `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	Failure        *Failure `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// SessionSummary is one row of a plant's diagnosis history
type SessionSummary struct {
	ID        string    `json:"id" yaml:"id"`
	PlantID   string    `json:"plant_id" yaml:"plant_id"`
	Problem   string    `json:"problem" yaml:"problem"`
	Status    Status    `json:"status" yaml:"status"`
	Finding   string    `json:"finding,omitempty" yaml:"finding,omitempty"`
	Failure   *Failure  `json:"failure,omitempty" yaml:"failure,omitempty"`
	Turns     int       `json:"turns" yaml:"turns"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// ActionTag names the four actions generated logic may produce
type ActionTag string

const (
	ActionAskUser        ActionTag = "ASK_USER"
	ActionGetPlantVitals ActionTag = "GET_PLANT_VITALS"
	ActionLogState       ActionTag = "LOG_STATE"
	ActionConclude       ActionTag = "CONCLUDE"
)

// SelfDirected reports whether the action continues the loop without user input
func (t ActionTag) SelfDirected() bool {
	return t == ActionGetPlantVitals || t == ActionLogState
}

// Action is the single structured outcome of one sandbox execution
type Action struct {
	Tag            ActionTag `json:"tag"`
	Question       string    `json:"question,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Key            string    `json:"key,omitempty"`
	Value          string    `json:"value,omitempty"`
	Finding        string    `json:"finding,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
}

// ErrInvalidAction is wrapped by Action.Validate failures
var ErrInvalidAction = errors.New("invalid action")

// Validate checks the payload required by the action's tag
func (a Action) Validate() error {
	switch a.Tag {
	case ActionAskUser:
		if strings.TrimSpace(a.Question) == "" {
			return fmt.Errorf("%w: ASK_USER requires a question", ErrInvalidAction)
		}
	case ActionGetPlantVitals:
	case ActionLogState:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("%w: LOG_STATE requires a key", ErrInvalidAction)
		}
	case ActionConclude:
		if strings.TrimSpace(a.Finding) == "" || strings.TrimSpace(a.Recommendation) == "" {
			return fmt.Errorf("%w: CONCLUDE requires a finding and a recommendation", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown tag %q", ErrInvalidAction, a.Tag)
	}
	return nil
}

// CareSchedule holds a plant's care requirements
type CareSchedule struct {
	Light        string `json:"light" yaml:"light"`
	Water        string `json:"water" yaml:"water"`
	Humidity     string `json:"humidity" yaml:"humidity"`
	Temperature  string `json:"temperature" yaml:"temperature"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// DefaultCareSchedule is used when a plant is added without care details
func DefaultCareSchedule() CareSchedule {
	return CareSchedule{
		Light:       "Bright, indirect sunlight",
		Water:       "Water when top inch of soil is dry",
		Humidity:    "Moderate humidity (40-60%)",
		Temperature: "18-24°C (65-75°F)",
	}
}

// Plant is a record owned by the plant-record provider
type Plant struct {
	ID        string       `json:"id" yaml:"id"`
	Name      string       `json:"name" yaml:"name"`
	Care      CareSchedule `json:"care" yaml:"care"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" yaml:"updated_at"`
}

// Vitals returns the read-only view the kernel consumes
func (p *Plant) Vitals() PlantVitals {
	return PlantVitals{Name: p.Name, Care: p.Care}
}

// PlantVitals is what the kernel reads about a plant
type PlantVitals struct {
	Name string       `json:"name" yaml:"name"`
	Care CareSchedule `json:"care_requirements" yaml:"care_requirements"`
}
