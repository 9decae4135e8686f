// internal/server/handler_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/kernel"
	"github.com/signalnine/leafdoc/internal/protocol"
	"github.com/signalnine/leafdoc/internal/store"
)

type fakeKernel struct {
	startErr   error
	resumeErr  error
	plantID    string
	problem    string
	sessionID  string
	reply      string
	summaries  []protocol.SessionSummary
	session    *protocol.Session
	sessionErr error
}

func (f *fakeKernel) Start(ctx context.Context, plantID, problem string) (*protocol.SessionView, error) {
	f.plantID, f.problem = plantID, problem
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &protocol.SessionView{SessionID: "s1", PlantID: plantID, Status: protocol.StatusPendingUserInput, Question: "How often do you water?"}, nil
}

func (f *fakeKernel) Resume(ctx context.Context, sessionID, reply string) (*protocol.SessionView, error) {
	f.sessionID, f.reply = sessionID, reply
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return &protocol.SessionView{SessionID: sessionID, Status: protocol.StatusCompleted, Finding: "Overwatering", Recommendation: "Water less"}, nil
}

func (f *fakeKernel) History(ctx context.Context, plantID string) ([]protocol.SessionSummary, error) {
	f.plantID = plantID
	return f.summaries, nil
}

func (f *fakeKernel) Session(ctx context.Context, sessionID string) (*protocol.Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func serve(h *Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandlerAuth(t *testing.T) {
	h := NewHandler(&fakeKernel{}, nil, "secret-key", 1<<20, zap.NewNop())

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no auth header", "", http.StatusUnauthorized},
		{"wrong key", "wrong-key", http.StatusUnauthorized},
		{"right key", "secret-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, "/v1/plants/p1/diagnoses", "", tt.token)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandlerAuthDisabledWithoutKey(t *testing.T) {
	h := NewHandler(&fakeKernel{}, nil, "", 1<<20, zap.NewNop())
	rec := serve(h, http.MethodGet, "/v1/plants/p1/diagnoses", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthSkipsAuth(t *testing.T) {
	h := NewHandler(&fakeKernel{}, fakePinger{}, "secret-key", 1<<20, zap.NewNop())
	rec := serve(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	h = NewHandler(&fakeKernel{}, fakePinger{err: errors.New("disk gone")}, "", 1<<20, zap.NewNop())
	rec = serve(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerPayloadLimit(t *testing.T) {
	h := NewHandler(&fakeKernel{}, nil, "secret", 100, zap.NewNop())

	big := fmt.Sprintf(`{"problem":%q}`, strings.Repeat("x", 200))
	req := httptest.NewRequest(http.MethodPost, "/v1/plants/p1/diagnoses", bytes.NewReader([]byte(big)))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// Unknown length still hits the limit while reading
	req = httptest.NewRequest(http.MethodPost, "/v1/plants/p1/diagnoses", bytes.NewReader([]byte(big)))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStartDiagnosis(t *testing.T) {
	k := &fakeKernel{}
	h := NewHandler(k, nil, "", 1<<20, zap.NewNop())

	rec := serve(h, http.MethodPost, "/v1/plants/p1/diagnoses", `{"problem":"yellow leaves"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "p1", k.plantID)
	assert.Equal(t, "yellow leaves", k.problem)

	var view protocol.SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, protocol.StatusPendingUserInput, view.Status)
	assert.Equal(t, "How often do you water?", view.Question)
}

func TestReplyDiagnosis(t *testing.T) {
	k := &fakeKernel{}
	h := NewHandler(k, nil, "", 1<<20, zap.NewNop())

	rec := serve(h, http.MethodPost, "/v1/diagnoses/s1/reply", `{"reply":"every day"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", k.sessionID)
	assert.Equal(t, "every day", k.reply)

	var view protocol.SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "Overwatering", view.Finding)
}

func TestListDiagnosesEmpty(t *testing.T) {
	h := NewHandler(&fakeKernel{}, nil, "", 1<<20, zap.NewNop())
	rec := serve(h, http.MethodGet, "/v1/plants/p1/diagnoses", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetDiagnosis(t *testing.T) {
	k := &fakeKernel{session: &protocol.Session{
		ID:      "s1",
		PlantID: "p1",
		Status:  protocol.StatusPendingUserInput,
		Turns:   []protocol.Turn{{Seq: 1, Role: protocol.RoleAI, Text: "How often do you water?"}},
	}}
	h := NewHandler(k, nil, "", 1<<20, zap.NewNop())

	rec := serve(h, http.MethodGet, "/v1/diagnoses/s1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sess protocol.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sess))
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, protocol.RoleAI, sess.Turns[0].Role)
}

func TestHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", fmt.Errorf("get session: %w", store.ErrNotFound), http.StatusNotFound},
		{"unknown plant", kernel.ErrPlantNotFound, http.StatusNotFound},
		{"busy", store.ErrSessionBusy, http.StatusConflict},
		{"not awaiting reply", kernel.ErrNotAwaitingReply, http.StatusConflict},
		{"closed", fmt.Errorf("%w: completed", kernel.ErrSessionClosed), http.StatusConflict},
		{"empty input", fmt.Errorf("%w: reply", kernel.ErrEmptyInput), http.StatusBadRequest},
		{"storage", &store.Error{Op: "append turn", Err: errors.New("disk I/O error")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeKernel{resumeErr: tt.err}, nil, "", 1<<20, zap.NewNop())
			rec := serve(h, http.MethodPost, "/v1/diagnoses/s1/reply", `{"reply":"yes"}`, "")
			assert.Equal(t, tt.want, rec.Code)

			var body errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, body.Error, "disk")
			}
		})
	}
}

func TestHandlerInvalidJSON(t *testing.T) {
	h := NewHandler(&fakeKernel{}, nil, "", 1<<20, zap.NewNop())
	rec := serve(h, http.MethodPost, "/v1/plants/p1/diagnoses", `{"problem":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
