package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnhound/vulnhound/internal/core"
)

// mockStore implements core.StateStore over an in-memory session map.
type mockStore struct {
	sessions map[core.SessionID]*core.AnalysisSession
	listErr  error
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[core.SessionID]*core.AnalysisSession)}
}

func (m *mockStore) Create(session *core.AnalysisSession) error {
	m.sessions[session.ID] = session
	return nil
}

func (m *mockStore) Load(id core.SessionID) (*core.AnalysisSession, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFound("session", string(id))
	}
	return session, nil
}

func (m *mockStore) Save(session *core.AnalysisSession) error {
	m.sessions[session.ID] = session
	return nil
}

func (m *mockStore) List() ([]core.SessionSummary, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	summaries := make([]core.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		summaries = append(summaries, s.Summary())
	}
	return summaries, nil
}

func (m *mockStore) LookupCached(string) (*core.FileAnalysisRecord, bool, error) {
	return nil, false, nil
}

func (m *mockStore) Stats(id core.SessionID) (*core.SessionStats, error) {
	session, err := m.Load(id)
	if err != nil {
		return nil, err
	}
	return &core.SessionStats{
		SessionID:  session.ID,
		Status:     session.Status,
		FilesTotal: len(session.Files),
	}, nil
}

func (m *mockStore) GlobalStats() (*core.GlobalStats, error) {
	return &core.GlobalStats{
		Sessions:         len(m.sessions),
		SessionsByStatus: map[core.SessionStatus]int{core.SessionStatusCompleted: len(m.sessions)},
	}, nil
}

func (m *mockStore) Cleanup(int) (int, error)         { return 0, nil }
func (m *mockStore) AcquireLock(core.SessionID) error { return nil }
func (m *mockStore) ReleaseLock(core.SessionID) error { return nil }

func finishedSession(id core.SessionID) *core.AnalysisSession {
	session := core.NewSession(id, "/repo/demo", []string{"app/handlers.py", "app/clean.py"})

	handlers, _ := session.File("app/handlers.py")
	handlers.Status = core.FileStatusDone
	inv := handlers.Investigation(core.VulnRCE)
	inv.RecordIteration(&core.ModelResponse{
		Analysis:        "subprocess reachable from request params",
		PoC:             "curl -d 'cmd=id' http://target/run",
		ConfidenceScore: 9,
		VulnTypes:       []core.VulnType{core.VulnRCE},
	})
	inv.Finish(inv.LastResponse)

	clean, _ := session.File("app/clean.py")
	clean.MarkSkipped()

	_ = session.Complete()
	return session
}

func newTestServer(t *testing.T) (*Server, *mockStore) {
	t.Helper()
	store := newMockStore()
	require.NoError(t, store.Create(finishedSession("scan-42")))
	return NewServer(store, WithVersion("test")), store
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGet(t, srv, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestListSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGet(t, srv, "/api/v1/sessions")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []core.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, core.SessionID("scan-42"), body.Sessions[0].ID)
	assert.Equal(t, core.SessionStatusCompleted, body.Sessions[0].Status)
}

func TestGetSession(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doGet(t, srv, "/api/v1/sessions/scan-42")
	require.Equal(t, http.StatusOK, rec.Code)
	var session core.AnalysisSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "/repo/demo", session.RepoRoot)
	assert.Len(t, session.Files, 2)

	rec = doGet(t, srv, "/api/v1/sessions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestSessionReport(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doGet(t, srv, "/api/v1/sessions/scan-42/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep core.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, core.VulnRCE, rep.Findings[0].Type)
	assert.Equal(t, core.SeverityHigh, rep.Findings[0].Severity)

	// The threshold filters the finding out.
	rec = doGet(t, srv, "/api/v1/sessions/scan-42/report?min_confidence=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Empty(t, rep.Findings)

	rec = doGet(t, srv, "/api/v1/sessions/scan-42/report?min_confidence=eleven")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionStats(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGet(t, srv, "/api/v1/sessions/scan-42/stats")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats core.SessionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.FilesTotal)
}

func TestGlobalStats(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGet(t, srv, "/api/v1/stats")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats core.GlobalStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Sessions)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	srv, store := newTestServer(t)
	store.listErr = errIndexDown

	rec := doGet(t, srv, "/api/v1/sessions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Internal detail stays out of the response body.
	assert.NotContains(t, rec.Body.String(), errIndexDown.Message)
}

var errIndexDown = &core.DomainError{
	Category: core.ErrCatState,
	Code:     "INDEX_UNAVAILABLE",
	Message:  "index query failed",
}

func TestCORSHeadersPresent(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteEndpointsAbsent(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
