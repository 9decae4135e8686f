// internal/render/render_test.go
package render

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/leafdoc/internal/protocol"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestViewText(t *testing.T) {
	tests := []struct {
		name string
		view protocol.SessionView
		want []string
	}{
		{
			name: "pending",
			view: protocol.SessionView{SessionID: "s1", Status: protocol.StatusPendingUserInput, Question: "How often do you water?"},
			want: []string{"pending_user_input", "How often do you water?", "leafdoc reply s1"},
		},
		{
			name: "completed",
			view: protocol.SessionView{SessionID: "s1", Status: protocol.StatusCompleted, Finding: "Overwatering", Recommendation: "Water less"},
			want: []string{"completed", "Overwatering", "Water less"},
		},
		{
			name: "failed",
			view: protocol.SessionView{SessionID: "s1", Status: protocol.StatusFailed, Failure: &protocol.Failure{Kind: protocol.FailureSandboxTimeout, Reason: "deadline"}},
			want: []string{"failed", "sandbox_timeout", "deadline"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewPrinter(&buf, FormatText).View(&tt.view))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestViewJSON(t *testing.T) {
	var buf bytes.Buffer
	view := &protocol.SessionView{SessionID: "s1", Status: protocol.StatusCompleted, Finding: "Root rot", Recommendation: "Repot"}
	require.NoError(t, NewPrinter(&buf, FormatJSON).View(view))

	var got protocol.SessionView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, *view, got)
}

func TestSessionTranscript(t *testing.T) {
	sess := &protocol.Session{
		ID:      "s1",
		PlantID: "p1",
		Problem: "yellow leaves",
		Status:  protocol.StatusCompleted,
		Turns: []protocol.Turn{
			{Seq: 1, Role: protocol.RoleAI, Text: "How often do you water?"},
			{Seq: 2, Role: protocol.RoleUser, Text: "Daily"},
		},
		Hypotheses:     []protocol.Hypothesis{{Seq: 1, Key: "suspect", Value: "overwatering"}},
		Vitals:         []protocol.VitalsSnapshot{{Seq: 1, Vitals: protocol.PlantVitals{Name: "Monstera"}, Reason: "check light"}},
		Finding:        "Overwatering",
		Recommendation: "Water weekly",
		CreatedAt:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText).Session(sess))
	out := buf.String()
	for _, w := range []string{"yellow leaves", "How often do you water?", "Daily", "suspect = overwatering", "Monstera", "check light", "Water weekly", "2026-03-01 09:30:00"} {
		assert.Contains(t, out, w)
	}
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("How often")), bytes.Index(buf.Bytes(), []byte("Daily")))
}

func TestSummariesYAML(t *testing.T) {
	var buf bytes.Buffer
	list := []protocol.SessionSummary{{ID: "s2", Problem: "drooping", Status: protocol.StatusFailed, Failure: &protocol.Failure{Kind: protocol.FailureLoopExceeded}}}
	require.NoError(t, NewPrinter(&buf, FormatYAML).Summaries(list))

	var got []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "drooping", got[0]["problem"])
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON)
	require.NoError(t, p.Summaries(nil))
	require.NoError(t, p.Plants(nil))
	assert.Equal(t, "[]\n[]\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatText).Plants(nil))
	assert.Contains(t, buf.String(), "No plants yet")
}

func TestPlantText(t *testing.T) {
	var buf bytes.Buffer
	pl := &protocol.Plant{ID: "p1", Name: "Fern", Care: protocol.DefaultCareSchedule()}
	require.NoError(t, NewPrinter(&buf, FormatText).Plant(pl))
	assert.Contains(t, buf.String(), "Fern")
	assert.Contains(t, buf.String(), "Bright, indirect sunlight")
	assert.NotContains(t, buf.String(), "Notes")
}
