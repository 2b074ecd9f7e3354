package kanban

// Routes:
//
//	GET  /jobs?status=&min_score=&q=           → list or search jobs
//	GET  /jobs/{id}                            → one job
//	GET  /jobs/{id}/history                    → audit log
//	GET  /jobs/{id}/interviews                 → interview rounds
//	POST /jobs/{id}/move                       → lifecycle transition
//	POST /jobs/{id}/note                       → set free-text note
//	POST /jobs/{id}/cover-letter               → store cover letter
//	POST /jobs/{id}/interviews                 → schedule an interview
//	POST /jobs/{id}/interviews/{iid}/complete  → complete an interview
//	POST /jobs/{id}/followup                   → record a follow-up
//	GET  /followups?days=                      → applied jobs due a follow-up
//	GET  /stats                                → store summary
//	GET  /export                               → every job as a JSON download

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"jobmate/pipeline-service/internal/model"
)

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler exposes the Service over HTTP.
type Handler struct {
	svc          *Service
	followupDays int
	logger       *slog.Logger
}

// NewHandler returns a configured Handler. followupDays is the default
// threshold for GET /followups.
func NewHandler(svc *Service, followupDays int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, followupDays: followupDays, logger: logger}
}

// RegisterRoutes mounts all lifecycle routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id:[0-9]+}", h.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id:[0-9]+}/history", h.history).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id:[0-9]+}/interviews", h.interviews).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id:[0-9]+}/move", h.move).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id:[0-9]+}/note", h.addNote).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id:[0-9]+}/cover-letter", h.coverLetter).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id:[0-9]+}/interviews", h.scheduleInterview).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id:[0-9]+}/interviews/{iid}/complete", h.completeInterview).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id:[0-9]+}/followup", h.followup).Methods(http.MethodPost)
	r.HandleFunc("/followups", h.followups).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/export", h.export).Methods(http.MethodGet)
}

// ─── Individual handlers ─────────────────────────────────────────────────────

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status model.Status
	if raw := q.Get("status"); raw != "" {
		st, err := model.ParseStatus(raw)
		if err != nil {
			WriteError(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = st
	}

	var minScore *int
	if raw := q.Get("min_score"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 100 {
			WriteError(w, "min_score must be an integer between 0 and 100", http.StatusBadRequest)
			return
		}
		minScore = &v
	}

	if _, ok := q["q"]; ok {
		found, err := h.svc.Search(r.Context(), q.Get("q"))
		if err != nil {
			h.fail(w, "search jobs", err)
			return
		}
		jobs := []model.JobRecord{}
		for _, j := range found {
			if status != "" && j.Status != status {
				continue
			}
			if minScore != nil && (j.Score == nil || *j.Score < *minScore) {
				continue
			}
			jobs = append(jobs, j)
		}
		WriteJSON(w, http.StatusOK, jobs)
		return
	}

	jobs, err := h.svc.Jobs(r.Context(), status, minScore)
	if err != nil {
		h.fail(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []model.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(r.Context(), jobID(r))
	if err != nil {
		h.fail(w, "get job", err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.History(r.Context(), jobID(r))
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	if events == nil {
		events = []model.HistoryEvent{}
	}
	WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) interviews(w http.ResponseWriter, r *http.Request) {
	ivs, err := h.svc.Interviews(r.Context(), jobID(r))
	if err != nil {
		h.fail(w, "interviews", err)
		return
	}
	if ivs == nil {
		ivs = []model.Interview{}
	}
	WriteJSON(w, http.StatusOK, ivs)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewStatus string `json:"newStatus"`
		Note      string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewStatus == "" {
		WriteError(w, "body must contain newStatus", http.StatusBadRequest)
		return
	}
	to, err := model.ParseStatus(body.NewStatus)
	if err != nil {
		WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.svc.Transition(r.Context(), jobID(r), to, body.Note)
	if err != nil {
		h.fail(w, "move", err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	job, err := h.svc.AddNote(r.Context(), jobID(r), body.Note)
	if err != nil {
		h.fail(w, "add note", err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) coverLetter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CoverLetter string `json:"coverLetter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	job, err := h.svc.SaveCoverLetter(r.Context(), jobID(r), body.CoverLetter)
	if err != nil {
		h.fail(w, "cover letter", err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) scheduleInterview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type            string    `json:"type"`
		ScheduledAt     time.Time `json:"scheduledAt"`
		Interviewer     string    `json:"interviewer"`
		DurationMinutes int       `json:"durationMinutes"`
		Notes           string    `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	iv, err := h.svc.ScheduleInterview(r.Context(), jobID(r), InterviewInput{
		Type:        body.Type,
		ScheduledAt: body.ScheduledAt,
		Interviewer: body.Interviewer,
		Duration:    time.Duration(body.DurationMinutes) * time.Minute,
		Notes:       body.Notes,
	})
	if err != nil {
		h.fail(w, "schedule interview", err)
		return
	}
	WriteJSON(w, http.StatusCreated, iv)
}

func (h *Handler) completeInterview(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.CompleteInterview(r.Context(), jobID(r), mux.Vars(r)["iid"])
	if err != nil {
		h.fail(w, "complete interview", err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) followup(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.RecordFollowup(r.Context(), jobID(r))
	if err != nil {
		h.fail(w, "followup", err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) followups(w http.ResponseWriter, r *http.Request) {
	days := h.followupDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			WriteError(w, "days must be an integer", http.StatusBadRequest)
			return
		}
		days = v
	}
	jobs, err := h.svc.JobsNeedingFollowup(r.Context(), days)
	if err != nil {
		h.fail(w, "followups", err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.Export(r.Context())
	if err != nil {
		h.fail(w, "export", err)
		return
	}
	if jobs == nil {
		jobs = []model.JobRecord{}
	}
	name := "jobs-" + h.svc.now().UTC().Format("20060102-150405") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(jobs)
}

func jobID(r *http.Request) int64 {
	// the route pattern only admits digits
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// fail maps a service error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		WriteError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		WriteError(w, "not found", http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, ErrFollowupNotApplied):
		WriteError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op+" failed", "err", err)
		WriteError(w, "database error", http.StatusInternalServerError)
	}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, msg string, code int) {
	WriteJSON(w, code, map[string]string{"error": msg})
}
