package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	ActiveTests   int    `json:"active_tests"`
	DBSizeBytes   int64  `json:"db_size_bytes,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, experiment.ErrTestNotFound), errors.Is(err, experiment.ErrNotAssigned):
		return http.StatusNotFound
	case errors.Is(err, experiment.ErrInvalidDefinition), errors.Is(err, experiment.ErrInvalidSubject):
		return http.StatusBadRequest
	case errors.Is(err, experiment.ErrTestExists), errors.Is(err, experiment.ErrTestNotActive),
		errors.Is(err, experiment.ErrConfigConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := HealthResponse{
		Status:        "ok",
		TestsCount:    len(s.engine.ListTests(ctx)),
		ActiveTests:   len(s.engine.ListActive(ctx)),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	if s.store != nil {
		row := s.store.DB().QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&response.DBSizeBytes); err != nil {
			s.log.Warn().Err(err).Msg("health: database unavailable")
			response.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleListTests lists every test, or only live ones with ?active=true.
func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	var tests []experiment.TestSummary
	if r.URL.Query().Get("active") == "true" {
		tests = s.engine.ListActive(r.Context())
	} else {
		tests = s.engine.ListTests(r.Context())
	}
	writeJSON(w, http.StatusOK, tests)
}

type variantView struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Weight int            `json:"weight"`
	Config map[string]any `json:"config,omitempty"`
}

type testView struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Status         store.TestStatus `json:"status"`
	Priority       int              `json:"priority"`
	ControlVariant string           `json:"control_variant"`
	Metrics        []string         `json:"metrics"`
	Variants       []variantView    `json:"variants"`
	StartDate      time.Time        `json:"start_date"`
	EndDate        time.Time        `json:"end_date"`
}

func viewOf(t *store.Test) testView {
	v := testView{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Status:         t.Status,
		Priority:       t.Priority,
		ControlVariant: t.ControlVariant,
		Metrics:        t.Metrics,
		StartDate:      t.StartDate,
		EndDate:        t.EndDate,
	}
	if v.Metrics == nil {
		v.Metrics = []string{}
	}
	for _, variant := range t.Variants {
		v.Variants = append(v.Variants, variantView{ID: variant.ID, Name: variant.Name, Weight: variant.Weight, Config: variant.Config})
	}
	return v
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var def experiment.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	t, err := s.engine.CreateTest(r.Context(), def)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(t))
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.GetResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStopTest(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.StopTest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type AssignRequest struct {
	SubjectID string `json:"subject_id"`
}

type AssignResponse struct {
	TestID     string         `json:"test_id"`
	SubjectID  string         `json:"subject_id"`
	VariantID  string         `json:"variant_id"`
	AssignedAt time.Time      `json:"assigned_at"`
	Config     map[string]any `json:"config"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	testID := chi.URLParam(r, "id")
	a, err := s.engine.Assign(r.Context(), req.SubjectID, testID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := AssignResponse{
		TestID:     a.TestID,
		SubjectID:  a.SubjectID,
		VariantID:  a.VariantID,
		AssignedAt: a.AssignedAt,
		Config:     map[string]any{},
	}
	if t, err := s.engine.Test(r.Context(), testID); err == nil {
		if v, ok := t.Variant(a.VariantID); ok && v.Config != nil {
			resp.Config = v.Config
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type EventRequest struct {
	SubjectID string         `json:"subject_id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

// handleTrack accepts every well-formed event. Events the tracker drops are
// still answered with 202 so clients never retry them.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	s.engine.Track(r.Context(), req.SubjectID, chi.URLParam(r, "id"), req.Event, req.Data)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubjectConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.MergedConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
