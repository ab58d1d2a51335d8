package api

import (
	"net/http"
	"strings"

	service "github.com/okian/ktrace/internal/app"
	"github.com/okian/ktrace/internal/domain/model"
)

// knowledgeState is the response shape of a snapshot.
type knowledgeState struct {
	ConceptsMastered   []string             `json:"concepts_mastered"`
	ConceptsStruggling []string             `json:"concepts_struggling"`
	OverallProficiency float64              `json:"overall_proficiency_estimate"`
	ConceptsEvaluated  int                  `json:"concepts_evaluated"`
	Concepts           []model.ConceptState `json:"concepts"`
}

func stateBody(s *model.KnowledgeStateSnapshot) knowledgeState {
	return knowledgeState{
		ConceptsMastered:   s.ConceptsMastered,
		ConceptsStruggling: s.ConceptsStruggling,
		OverallProficiency: s.OverallProficiency,
		ConceptsEvaluated:  s.ConceptsEvaluated,
		Concepts:           s.Concepts,
	}
}

type traceResponse struct {
	Status         string          `json:"status"`
	AttemptID      string          `json:"attemptid,omitempty"`
	KnowledgeState *knowledgeState `json:"knowledge_state,omitempty"`
	Trace          *service.Report `json:"trace,omitempty"`
	Feedback       string          `json:"feedback,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
}

func success(out *service.Outcome) traceResponse {
	ks := stateBody(&out.State)
	return traceResponse{
		Status:         "success",
		AttemptID:      out.AttemptID,
		KnowledgeState: &ks,
		Trace:          &out.Report,
	}
}

// handleGenerateFeedback handles POST /api/generate_feedback.
func (s *Server) handleGenerateFeedback(w http.ResponseWriter, r *http.Request) {
	const op = "api.generate_feedback"
	if !s.allow(w, r, op, http.MethodPost) {
		return
	}
	var req attemptRequest
	if err := s.decode(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, text, err := s.deps.GenerateFeedback(r.Context(), req.attempt())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := success(&out)
	resp.Feedback = text
	writeJSON(w, http.StatusOK, resp)
}

// handleTrace handles POST /api/trace.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	const op = "api.trace"
	if !s.allow(w, r, op, http.MethodPost) {
		return
	}
	var req attemptRequest
	if err := s.decode(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Trace(r.Context(), req.attempt())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success(&out))
}

type asyncResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// handleTraceAsync handles POST /api/trace/async.
func (s *Server) handleTraceAsync(w http.ResponseWriter, r *http.Request) {
	const op = "api.trace_async"
	if !s.allow(w, r, op, http.MethodPost) {
		return
	}
	var req attemptRequest
	if err := s.decode(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, dup, err := s.deps.Enqueue(r.Context(), req.attempt())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, asyncResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, asyncResponse{Status: "accepted", JobID: jobID})
}

type batchResponse struct {
	Status  string          `json:"status"`
	Results []traceResponse `json:"results"`
}

// handleTraceBatch handles POST /api/trace/batch.
func (s *Server) handleTraceBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.trace_batch"
	if !s.allow(w, r, op, http.MethodPost) {
		return
	}
	var req batchRequest
	if err := s.decode(w, r, op, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	attempts := make([]model.Attempt, len(req.Attempts))
	for i := range req.Attempts {
		attempts[i] = req.Attempts[i].attempt()
	}
	results, err := s.deps.TraceBatch(r.Context(), attempts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := batchResponse{Status: "success", Results: make([]traceResponse, len(results))}
	for i, res := range results {
		if res.Err != nil {
			status, code := classify(res.Err)
			msg := res.Err.Error()
			if status == http.StatusInternalServerError {
				msg = internalMessage
			}
			resp.Results[i] = traceResponse{Status: "error", AttemptID: res.AttemptID, Code: code, Message: msg}
			continue
		}
		resp.Results[i] = success(res.Outcome)
	}
	writeJSON(w, http.StatusOK, resp)
}

type stateResponse struct {
	Status         string         `json:"status"`
	UserID         string         `json:"userid"`
	CourseID       string         `json:"courseid"`
	KnowledgeState knowledgeState `json:"knowledge_state"`
}

// handleKnowledgeState handles GET /api/knowledge_state?userid=&courseid=.
func (s *Server) handleKnowledgeState(w http.ResponseWriter, r *http.Request) {
	const op = "api.knowledge_state"
	if !s.allow(w, r, op, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userid"))
	courseID := strings.TrimSpace(q.Get("courseid"))
	state, err := s.deps.KnowledgeState(r.Context(), userID, courseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Status:         "success",
		UserID:         userID,
		CourseID:       courseID,
		KnowledgeState: stateBody(&state),
	})
}

type registryResponse struct {
	Status   string               `json:"status"`
	Registry service.RegistryInfo `json:"registry"`
}

// handleRegistryReload handles POST /api/registry/reload.
func (s *Server) handleRegistryReload(w http.ResponseWriter, r *http.Request) {
	const op = "api.registry_reload"
	if !s.allow(w, r, op, http.MethodPost) {
		return
	}
	info, err := s.deps.ReloadRegistry(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registryResponse{Status: "success", Registry: info})
}
