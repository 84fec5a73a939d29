package facade

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

type fakeManager struct {
	jobs      map[string]*job.Job
	admitErr  error
	cancelErr error
	helpErr   error
	admitted  job.Request
}

func newFakeManager() *fakeManager { return &fakeManager{jobs: map[string]*job.Job{}} }

func (m *fakeManager) Admit(req job.Request) (*job.Job, error) {
	if m.admitErr != nil {
		return nil, m.admitErr
	}
	m.admitted = req
	j := job.NewJob("job-1", req)
	m.jobs[j.ID] = j
	return j, nil
}

func (m *fakeManager) Status(jobID string) (*job.Job, error) {
	if j, ok := m.jobs[jobID]; ok {
		return j, nil
	}
	return nil, orcherr.New("facade_test", orcherr.KindValidation, jobID, "job not found", nil)
}

func (m *fakeManager) List() []*job.Job {
	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

func (m *fakeManager) Cancel(jobID string) error { return m.cancelErr }
func (m *fakeManager) Help(jobID string, hint job.HelpRequest) error { return m.helpErr }

func newTestServer(m Manager) *Server {
	return NewServer(m, languages, 10, nil)
}

func TestHandleSubmitAcceptsValidRequest(t *testing.T) {
	m := newFakeManager()
	s := newTestServer(m)

	body, _ := json.Marshal(validRequest())
	req := httptest.NewRequest(http.MethodPost, "/orchestrate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.HandleSubmit(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp admissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "python", m.admitted.Language)
}

func TestHandleSubmitRejectsInvalidBody(t *testing.T) {
	s := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodPost, "/orchestrate", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.HandleSubmit(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSubmitRejectsAdmissionGrammarViolation(t *testing.T) {
	s := newTestServer(newFakeManager())
	bad := validRequest()
	bad.Task = "short"
	body, _ := json.Marshal(bad)
	req := httptest.NewRequest(http.MethodPost, "/orchestrate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.HandleSubmit(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eb))
	assert.Equal(t, string(orcherr.KindValidation), eb.ErrorKind)
}

func TestHandleGetJobReturns404ForUnknownJob(t *testing.T) {
	s := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodGet, "/orchestrate/missing", nil)
	w := httptest.NewRecorder()
	s.HandleGetJob(w, req, "missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetJobReturnsStatus(t *testing.T) {
	m := newFakeManager()
	s := newTestServer(m)
	j := job.NewJob("job-1", job.Request{})
	m.jobs["job-1"] = j

	req := httptest.NewRequest(http.MethodGet, "/orchestrate/job-1", nil)
	w := httptest.NewRecorder()
	s.HandleGetJob(w, req, "job-1")

	require.Equal(t, http.StatusOK, w.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, string(job.StateQueued), resp.State)
}

func TestHandleCancelReturnsConflictForNonNotFoundError(t *testing.T) {
	m := newFakeManager()
	m.cancelErr = orcherr.New("facade_test", orcherr.KindValidation, "job-1", "job already terminal", nil)
	s := newTestServer(m)

	req := httptest.NewRequest(http.MethodDelete, "/orchestrate/job-1", nil)
	w := httptest.NewRecorder()
	s.HandleCancel(w, req, "job-1")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleCancelReturnsNoContentOnSuccess(t *testing.T) {
	s := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodDelete, "/orchestrate/job-1", nil)
	w := httptest.NewRecorder()
	s.HandleCancel(w, req, "job-1")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleHelpRejectsInvalidBody(t *testing.T) {
	s := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodPost, "/orchestrate/job-1/help", bytes.NewReader([]byte("{bad")))
	w := httptest.NewRecorder()
	s.HandleHelp(w, req, "job-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListPaginates(t *testing.T) {
	m := newFakeManager()
	s := newTestServer(m)
	for i := 0; i < 3; i++ {
		j := job.NewJob(string(rune('a'+i)), job.Request{})
		m.jobs[j.ID] = j
	}

	req := httptest.NewRequest(http.MethodGet, "/orchestrate?limit=2", nil)
	w := httptest.NewRecorder()
	s.HandleList(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.NotEmpty(t, resp.NextCursor)
}

func TestHandleHealthReportsOK(t *testing.T) {
	s := newTestServer(newFakeManager())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.HandleHealth(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterRoutesDispatchesByMethod(t *testing.T) {
	m := newFakeManager()
	s := newTestServer(m)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	body, _ := json.Marshal(validRequest())
	req := httptest.NewRequest(http.MethodPost, "/orchestrate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPatch, "/orchestrate", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/orchestrate/job-1", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
