// internal/kernel/context_test.go
package kernel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/leafdoc/internal/protocol"
)

func sampleSession() *protocol.Session {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &protocol.Session{
		ID:      "s1",
		PlantID: "p1",
		Problem: "leaves yellowing",
		Status:  protocol.StatusInProgress,
		Turns: []protocol.Turn{
			{Seq: 1, Role: protocol.RoleAI, Text: "How often do you water?", CreatedAt: at},
			{Seq: 2, Role: protocol.RoleUser, Text: "every day", CreatedAt: at.Add(time.Minute)},
			{Seq: 3, Role: protocol.RoleAI, Text: "Is the pot draining?", CreatedAt: at.Add(2 * time.Minute)},
			{Seq: 4, Role: protocol.RoleUser, Text: "no holes", CreatedAt: at.Add(3 * time.Minute)},
		},
		Hypotheses: []protocol.Hypothesis{
			{Seq: 1, Key: "suspect", Value: "overwatering", CreatedAt: at},
		},
	}
}

var sampleVitals = protocol.PlantVitals{Name: "Monstera", Care: protocol.DefaultCareSchedule()}

func TestBuildPayloadIsDeterministic(t *testing.T) {
	a, err := BuildPayload(sampleSession(), sampleVitals, "", ContextPolicy{}, nil)
	require.NoError(t, err)
	b, err := BuildPayload(sampleSession(), sampleVitals, "", ContextPolicy{}, nil)
	require.NoError(t, err)

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, ea, eb)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ea, &decoded))
	assert.Equal(t, "leaves yellowing", decoded["problem"])
	assert.Len(t, decoded["turns"], 4)
	assert.Len(t, decoded["hypotheses"], 1)
	assert.Empty(t, decoded["vitals_history"])
	assert.NotContains(t, decoded, "repair_error")
}

func TestBuildPayloadEmptySessionEncodesEmptyLists(t *testing.T) {
	sess := &protocol.Session{ID: "s1", Problem: "x"}
	p, err := BuildPayload(sess, sampleVitals, "", ContextPolicy{}, nil)
	require.NoError(t, err)
	data, err := p.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"turns":[]`)
	assert.Contains(t, string(data), `"hypotheses":[]`)
}

func TestBuildPayloadMaxHistoryTurns(t *testing.T) {
	p, err := BuildPayload(sampleSession(), sampleVitals, "", ContextPolicy{MaxHistoryTurns: 2}, nil)
	require.NoError(t, err)
	require.Len(t, p.Turns, 2)
	assert.Equal(t, 3, p.Turns[0].Seq)
	assert.Equal(t, 2, p.OmittedTurns)
	// Hypotheses are never trimmed
	assert.Len(t, p.Hypotheses, 1)
}

// byteCounter counts one token per byte
type byteCounter struct{}

func (byteCounter) Count(text string) (int, error) { return len(text), nil }

func TestBuildPayloadMaxTokensDropsOldestTurns(t *testing.T) {
	full, err := BuildPayload(sampleSession(), sampleVitals, "", ContextPolicy{}, nil)
	require.NoError(t, err)
	data, err := full.Encode()
	require.NoError(t, err)

	p, err := BuildPayload(sampleSession(), sampleVitals, "", ContextPolicy{MaxTokens: len(data) - 1}, byteCounter{})
	require.NoError(t, err)
	assert.Less(t, len(p.Turns), 4)
	assert.Equal(t, 4-len(p.Turns), p.OmittedTurns)
	assert.Equal(t, 4, p.Turns[len(p.Turns)-1].Seq)
}

func TestTiktokenCounter(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)
	n, err := counter.Count("How often do you water your plant?")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)
}

func TestSandboxContext(t *testing.T) {
	p, err := BuildPayload(sampleSession(), sampleVitals, "sandbox runtime: panic", ContextPolicy{}, nil)
	require.NoError(t, err)
	in := p.SandboxContext()
	assert.Equal(t, "no holes", in.LastReply)
	assert.Equal(t, "Monstera", in.Plant.Name)
	assert.Equal(t, "sandbox runtime: panic", in.RepairError)
	assert.Len(t, in.Turns, 4)
}
