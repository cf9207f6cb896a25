package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/document"
	"github.com/marriagesignal/studio/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Post("/projects/import", importProjectHandler(cfg))
		r.Post("/stories", storyHandler(cfg))
		r.Post("/scripts/improve", improveScriptHandler(cfg))
		r.Post("/translate", translateHandler(cfg))

		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", getProjectHandler(cfg))
			r.Put("/", replaceProjectHandler(cfg))
			r.Delete("/", deleteProjectHandler(cfg))
			r.Get("/document", documentHandler(cfg))
			r.Post("/timing", timingHandler(cfg))

			r.Patch("/cuts/{cut}", updateCutHandler(cfg))
			r.Delete("/cuts/{cut}", deleteCutHandler(cfg))
			r.Post("/cuts/{cut}/move", moveCutHandler(cfg))
			r.Post("/cuts/{cut}/dialogues", addDialogueHandler(cfg))

			r.Patch("/dialogues/{did}", updateDialogueHandler(cfg))
			r.Delete("/dialogues/{did}", deleteDialogueHandler(cfg))
			r.Get("/dialogues/{did}/audio", dialogueAudioHandler(cfg))

			r.Post("/generate", generateHandler(cfg))

			r.Get("/playback", playbackStatusHandler(cfg))
			r.Post("/playback/{action}", playbackControlHandler(cfg))
			r.Get("/events", eventsHandler(cfg))

			r.Post("/export", exportHandler(cfg))
		})

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projects, _ := cfg.Library.ListProjects(ctx)
		jobs, _ := cfg.Repository.ListJobs(ctx, 10)
		pending, _ := cfg.Repository.ListPendingJobs(ctx)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning {
				state = "generating"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == catalog.JobStatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:        state,
			LastError:    lastError,
			ProjectCount: len(projects),
			JobsRunning:  jobsRunning,
			JobsPending:  len(pending),
			ActiveJob:    activeJob,
			Transcoder:   cfg.FFmpeg != nil && cfg.FFmpeg.Available(ctx),
		})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Library.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Library.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

// writeServiceError maps library and model errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var refErr *timeline.ReferentialError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, timeline.ErrIndexOutOfRange), errors.Is(err, errDialogueNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, document.ErrMalformed), errors.As(err, &refErr), errors.Is(err, errBadRequest):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

var (
	errBadRequest       = errors.New("bad request")
	errDialogueNotFound = errors.New("dialogue not found")
)

func decodeBody(r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v) == nil
}
