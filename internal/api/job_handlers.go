package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/generation"
)

// generateHandler queues an asset job for an existing project.
func generateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Type == catalog.JobTypeStory || !catalog.JobTypes[req.Type] {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported job type %q", req.Type), "BAD_REQUEST")
			return
		}

		id := chi.URLParam(r, "id")
		if s, ok := cfg.Sessions.Get(id); ok && s.Dirty() {
			if _, err := cfg.Sessions.Save(r.Context(), s); err != nil {
				writeServiceError(w, err)
				return
			}
		}

		job, err := cfg.Library.EnqueueJob(r.Context(), req.Type, id, req.TargetID, nil)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cfg.Runner != nil {
			cfg.Runner.Notify()
		}
		WriteJSON(w, http.StatusAccepted, JobAcceptedResponse{JobID: job.ID})
	}
}

// storyHandler queues a story job; the job creates its own project.
func storyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StoryRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Keywords) == "" {
			WriteError(w, http.StatusBadRequest, "keywords are required", "BAD_REQUEST")
			return
		}
		if req.DurationSeconds < 0 {
			WriteError(w, http.StatusBadRequest, "duration_seconds must not be negative", "BAD_REQUEST")
			return
		}

		job, err := cfg.Library.EnqueueJob(r.Context(), catalog.JobTypeStory, "", "", generation.StoryRequest{
			Keywords:        strings.TrimSpace(req.Keywords),
			DurationSeconds: req.DurationSeconds,
			ReferenceScript: req.ReferenceScript,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if cfg.Runner != nil {
			cfg.Runner.Notify()
		}
		WriteJSON(w, http.StatusAccepted, JobAcceptedResponse{JobID: job.ID})
	}
}
