package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type triggerRequest struct {
	TriggerSource string `json:"trigger_source"`
	Force         bool   `json:"force"`
}

func (s *Server) triggerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}
		if req.TriggerSource == "" {
			req.TriggerSource = "api"
		}

		report, err := s.triggerUC.Run(r.Context(), req.Force, req.TriggerSource)
		if err != nil {
			s.log.Error().Err(err).Msg("trigger run failed")
			http.Error(w, "Failed to run trigger", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

type enqueueRequest struct {
	OrgID        string   `json:"orgId"`
	Scope        string   `json:"scope"`
	PromptIDs    []string `json:"promptIds"`
	ModelVersion string   `json:"modelVersion"`
}

// enqueueResponse is shape-identical for fresh and deduplicated requests;
// only the message text tells them apart.
type enqueueResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) enqueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.OrgID == "" {
			http.Error(w, "orgId is required", http.StatusBadRequest)
			return
		}
		if req.Scope == "" {
			req.Scope = usecase.ScopeOrg
		}

		res, err := s.enqueueUC.Resolve(r.Context(), req.OrgID, req.Scope, req.PromptIDs, req.ModelVersion, "api")
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrNoEligiblePrompts):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, domain.ErrNotFound):
				http.NotFound(w, r)
			default:
				s.log.Error().Err(err).Str("org_id", req.OrgID).Msg("enqueue failed")
				http.Error(w, "Failed to enqueue", http.StatusInternalServerError)
			}
			return
		}

		msg := "optimization job created"
		if !res.IsNew {
			msg = "existing job reused within the idempotency window"
		}
		writeJSON(w, http.StatusOK, enqueueResponse{
			JobID:   res.JobID,
			Status:  "success",
			Message: msg,
		})
	}
}

type jobResponse struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"orgId"`
	Status         string     `json:"status"`
	TotalTasks     int        `json:"totalTasks"`
	CompletedTasks int        `json:"completedTasks"`
	FailedTasks    int        `json:"failedTasks"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	DriverActive   bool       `json:"driverActive"`
	DriverRuns     int        `json:"driverRuns"`
	DriverLastPing *time.Time `json:"driverLastPing,omitempty"`
	TriggerSource  string     `json:"triggerSource"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toJobResponse(job *model.BatchJob) jobResponse {
	resp := jobResponse{
		ID:             job.ID,
		OrgID:          job.OrgID,
		Status:         string(job.Status),
		TotalTasks:     job.TotalTasks,
		CompletedTasks: job.CompletedTasks,
		FailedTasks:    job.FailedTasks,
		ErrorMessage:   job.ErrorMessage,
		DriverActive:   job.DriverActive,
		DriverRuns:     job.DriverRuns,
		TriggerSource:  job.TriggerSource,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if !job.DriverLastPing.IsZero() {
		ping := job.DriverLastPing
		resp.DriverLastPing = &ping
	}
	return resp
}

func (s *Server) jobGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobUC.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to get job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (s *Server) jobCancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.jobUC.Cancel(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, domain.ErrJobTerminal):
				http.Error(w, "Job already finished", http.StatusConflict)
			default:
				http.Error(w, "Failed to cancel job", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"jobId": id, "status": "cancelled"})
	}
}

func (s *Server) jobReclaimHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.jobUC.Reclaim(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, domain.ErrJobTerminal):
				http.Error(w, "Job already finished", http.StatusConflict)
			case errors.Is(err, domain.ErrDriverStillLive):
				http.Error(w, "Driver is still heartbeating", http.StatusConflict)
			default:
				http.Error(w, "Failed to reclaim job", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "reclaimed"})
	}
}

func (s *Server) breakersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Endpoints any `json:"endpoints"`
		}{s.breakers.Status()})
	}
}
