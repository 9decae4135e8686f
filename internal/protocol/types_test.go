// internal/protocol/types_test.go
package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInProgress, StatusPendingUserInput, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusPendingUserInput, StatusInProgress, true},
		{StatusPendingUserInput, StatusFailed, true},
		{StatusPendingUserInput, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusFailed, StatusInProgress, false},
		{StatusFailed, StatusFailed, false},
		{StatusInProgress, Status("bogus"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestActionValidate(t *testing.T) {
	valid := []Action{
		{Tag: ActionAskUser, Question: "How often do you water?"},
		{Tag: ActionGetPlantVitals},
		{Tag: ActionLogState, Key: "hypothesis", Value: "overwatering"},
		{Tag: ActionConclude, Finding: "Overwatering", Recommendation: "Reduce frequency"},
	}
	for _, a := range valid {
		assert.NoError(t, a.Validate(), a.Tag)
	}

	invalid := []Action{
		{},
		{Tag: "EXPLODE"},
		{Tag: ActionAskUser, Question: "  "},
		{Tag: ActionLogState},
		{Tag: ActionConclude, Finding: "Overwatering"},
	}
	for _, a := range invalid {
		err := a.Validate()
		assert.True(t, errors.Is(err, ErrInvalidAction), "%+v", a)
	}
}

func TestSessionView(t *testing.T) {
	s := &Session{
		ID:      "s1",
		PlantID: "p1",
		Status:  StatusPendingUserInput,
		Turns: []Turn{
			{Seq: 1, Role: RoleAI, Text: "first?"},
			{Seq: 2, Role: RoleUser, Text: "answer"},
			{Seq: 3, Role: RoleAI, Text: "second?"},
		},
	}
	v := s.View()
	assert.Equal(t, "second?", v.Question)
	assert.Empty(t, v.Finding)

	s.Status = StatusCompleted
	s.Finding, s.Recommendation = "Root rot", "Repot"
	v = s.View()
	assert.Empty(t, v.Question)
	assert.Equal(t, "Root rot", v.Finding)
	assert.Equal(t, "Repot", v.Recommendation)
}

func TestSelfDirected(t *testing.T) {
	assert.True(t, ActionLogState.SelfDirected())
	assert.True(t, ActionGetPlantVitals.SelfDirected())
	assert.False(t, ActionAskUser.SelfDirected())
	assert.False(t, ActionConclude.SelfDirected())
}
