package facade

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// Manager is the subset of job.Manager the facade depends on.
type Manager interface {
	Admit(req job.Request) (*job.Job, error)
	Status(jobID string) (*job.Job, error)
	List() []*job.Job
	Cancel(jobID string) error
	Help(jobID string, hint job.HelpRequest) error
}

// Server implements the Orchestration Facade (spec §4.8, §6.2): HTTP
// admission, status, cancel, help, listing, and health, grounded on the
// teacher's orchestration/task_api.go handler shape (request decode ->
// validate -> dispatch -> structured JSON response, one handler per verb).
type Server struct {
	manager               Manager
	allowedLanguages      map[string]bool
	defaultResourceBudget float64
	logger                logging.Logger
	startedAt             time.Time
}

// NewServer builds a Server. allowedLanguages is the facade's configured
// language set (spec §4.8's "language in the enumerated set"); cmd/codeforged
// builds it from Facade.AllowedLanguages.
// defaultResourceBudget is Orchestrator.DefaultResourceBudget (spec §6.3),
// used to fill in an admission request's ResourceBudget when omitted.
func NewServer(manager Manager, allowedLanguages map[string]bool, defaultResourceBudget float64, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{
		manager: manager, allowedLanguages: allowedLanguages, defaultResourceBudget: defaultResourceBudget,
		logger: logger.WithComponent("orchestrator/facade"), startedAt: time.Now(),
	}
}

// errorBody is spec §6.2's structured error response: {errorKind, message, retriable}.
type errorBody struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	kind, ok := orcherr.KindOf(err)
	if !ok {
		kind = orcherr.KindValidation
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		ErrorKind: string(kind), Message: err.Error(), Retriable: orcherr.IsRetryable(err),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", logging.Fields{"error": err.Error()})
	}
}

// admissionResponse is POST /orchestrate's 200 body (spec §6.2).
type admissionResponse struct {
	JobID    string `json:"jobId"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
}

// HandleSubmit implements POST /orchestrate.
func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req AdmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, admissionError("invalid request body"))
		return
	}

	jobReq, err := Validate(req, s.allowedLanguages, s.defaultResourceBudget)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	j, err := s.manager.Admit(jobReq)
	if err != nil {
		if k, _ := orcherr.KindOf(err); k == orcherr.KindValidation {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, admissionResponse{JobID: j.ID, State: string(j.State), Progress: j.Progress})
}

// statusResponse is GET /orchestrate/{jobId}'s body.
type statusResponse struct {
	JobID        string            `json:"jobId"`
	State        string            `json:"state"`
	Progress     int               `json:"progress"`
	CurrentPhase string            `json:"currentPhase"`
	Iteration    int               `json:"iteration"`
	NeedsHelpFor string            `json:"needsHelpFor,omitempty"`
	Timeline     []job.PhaseInfo   `json:"timeline"`
	LastError    *job.TaskError    `json:"lastError,omitempty"`
	Timestamps   job.Timestamps    `json:"timestamps"`
}

func toStatusResponse(j *job.Job) statusResponse {
	return statusResponse{
		JobID: j.ID, State: string(j.State), Progress: j.Progress, CurrentPhase: j.CurrentPhase,
		Iteration: j.Iteration, NeedsHelpFor: j.NeedsHelpFor, Timeline: j.Timeline,
		LastError: j.LastError, Timestamps: j.Timestamps,
	}
}

// HandleGetJob implements GET /orchestrate/{jobId}.
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := s.manager.Status(jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusResponse(j))
}

// HandleCancel implements DELETE /orchestrate/{jobId}.
func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.manager.Cancel(jobID); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// helpRequestBody is POST /orchestrate/{jobId}/help's body.
type helpRequestBody struct {
	Hint        string `json:"hint,omitempty"`
	CodeSnippet string `json:"codeSnippet,omitempty"`
	FocusFile   string `json:"focusFile,omitempty"`
	SkipStep    bool   `json:"skipStep,omitempty"`
}

// HandleHelp implements POST /orchestrate/{jobId}/help.
func (s *Server) HandleHelp(w http.ResponseWriter, r *http.Request, jobID string) {
	var body helpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, admissionError("invalid request body"))
		return
	}
	hint := job.HelpRequest{Hint: body.Hint, CodeSnippet: body.CodeSnippet, FocusFile: body.FocusFile, SkipStep: body.SkipStep}
	if err := s.manager.Help(jobID, hint); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps an *orcherr.Error's Kind to spec §6.2's 404/409 split for
// not-found vs. wrong-state conflicts. Manager.Cancel/Help both report both
// cases as KindValidation, distinguished only by message text, so this
// falls back to a substring check rather than a second Kind.
func statusFor(err error) int {
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusConflict
}

const defaultPageSize = 50

// listResponse is GET /orchestrate's paginated body (SPEC_FULL.md Part D:
// cursor pagination rather than the teacher's unpaginated task list, since
// a long-lived orchestrator accumulates far more jobs than fit one page).
type listResponse struct {
	Jobs       []statusResponse `json:"jobs"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// HandleList implements GET /orchestrate. Cursor is an opaque job ID: jobs
// are ordered by StartedAt, and the cursor names the last job of the
// previous page.
func (s *Server) HandleList(w http.ResponseWriter, r *http.Request) {
	all := s.manager.List()
	sortJobsByStartedAt(all)

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	start := 0
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		for i, j := range all {
			if j.ID == cursor {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}

	page := make([]statusResponse, 0, end-start)
	for _, j := range all[start:end] {
		page = append(page, toStatusResponse(j))
	}

	resp := listResponse{Jobs: page}
	if end < len(all) {
		resp.NextCursor = all[end-1].ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func sortJobsByStartedAt(jobs []*job.Job) {
	for i := 1; i < len(jobs); i++ {
		for k := i; k > 0 && jobs[k].Timestamps.StartedAt.Before(jobs[k-1].Timestamps.StartedAt); k-- {
			jobs[k], jobs[k-1] = jobs[k-1], jobs[k]
		}
	}
}

// HandleHealth implements GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
	})
}

// RegisterRoutes wires every handler onto mux (spec §6.2).
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.HandleHealth)

	mux.HandleFunc("/orchestrate", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.HandleSubmit(w, r)
		case http.MethodGet:
			s.HandleList(w, r)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, admissionError("method not allowed"))
		}
	})

	mux.HandleFunc("/orchestrate/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/orchestrate/")
		if rest == "" {
			s.writeError(w, http.StatusBadRequest, admissionError("job id is required"))
			return
		}

		if strings.HasSuffix(rest, "/help") {
			jobID := strings.TrimSuffix(rest, "/help")
			if r.Method != http.MethodPost {
				s.writeError(w, http.StatusMethodNotAllowed, admissionError("method not allowed"))
				return
			}
			s.HandleHelp(w, r, jobID)
			return
		}
		if strings.HasSuffix(rest, "/stream") {
			jobID := strings.TrimSuffix(rest, "/stream")
			s.HandleStream(w, r, jobID)
			return
		}

		switch r.Method {
		case http.MethodGet:
			s.HandleGetJob(w, r, rest)
		case http.MethodDelete:
			s.HandleCancel(w, r, rest)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, admissionError("method not allowed"))
		}
	})
}
