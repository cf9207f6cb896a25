package api

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marriagesignal/studio/internal/document"
	"github.com/marriagesignal/studio/internal/export"
	"github.com/marriagesignal/studio/internal/session"
	"github.com/marriagesignal/studio/internal/timeline"
)

const maxDocumentBytes = 256 << 20

// TimelineResponse is returned by every timeline edit.
type TimelineResponse struct {
	TotalDuration     float64            `json:"total_duration"`
	StaleCuts         []int              `json:"stale_cuts"`
	ReferenceProblems []ReferenceProblem `json:"reference_problems"`
	Timeline          *timeline.Project  `json:"timeline"`
}

func openSession(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := cfg.Sessions.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return s, true
}

func staleCuts(p *timeline.Project) []int {
	stale := []int{}
	for i, c := range p.Cuts {
		if c.Stale {
			stale = append(stale, i)
		}
	}
	return stale
}

func referenceProblems(p *timeline.Project) []ReferenceProblem {
	problems := []ReferenceProblem{}
	for _, e := range p.ValidateReferences() {
		problems = append(problems, ReferenceProblem{Entity: e.Entity, ID: e.ID, Ref: e.Ref, Message: e.Error()})
	}
	return problems
}

// commit saves the session and answers with the updated timeline.
func commit(cfg ServerConfig, w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	if _, err := cfg.Sessions.Save(r.Context(), s); err != nil {
		writeServiceError(w, err)
		return
	}
	snap := s.Snapshot()
	WriteJSON(w, status, TimelineResponse{
		TotalDuration:     s.TotalDuration(),
		StaleCuts:         staleCuts(snap),
		ReferenceProblems: referenceProblems(snap),
		Timeline:          snap,
	})
}

func cutIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "cut"))
	if err != nil || i < 0 {
		WriteError(w, http.StatusBadRequest, "cut must be a non-negative index", "BAD_REQUEST")
		return 0, false
	}
	return i, true
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Library.ListProjects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}
		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			WriteError(w, http.StatusBadRequest, "title is required", "BAD_REQUEST")
			return
		}

		p := &timeline.Project{Title: strings.TrimSpace(req.Title)}
		p.EnsureNarrator()
		rec, err := cfg.Library.CreateProject(r.Context(), p, nil)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(rec))
	}
}

func importProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read body", "BAD_REQUEST")
			return
		}
		rec, err := cfg.Library.ImportDocument(r.Context(), data)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(rec))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		rec, err := cfg.Library.GetProject(r.Context(), s.ID())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		snap := s.Snapshot()
		resp := ProjectDetailResponse{
			ProjectResponse: ProjectToResponse(rec),
			Timeline:        snap,
			StaleCuts:       staleCuts(snap),
			Audio:           s.AudioStore().Keys(),

			ReferenceProblems: referenceProblems(snap),
		}
		resp.Title = snap.Title
		resp.TotalDuration = s.TotalDuration()
		resp.CutCount = len(snap.Cuts)
		resp.DialogueCount = snap.DialogueCount()
		WriteJSON(w, http.StatusOK, resp)
	}
}

// replaceProjectHandler swaps the whole timeline for an uploaded document.
func replaceProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read body", "BAD_REQUEST")
			return
		}
		res, err := document.Unmarshal(data)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		s.Replace(res.Project, res.Audio)
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cfg.Sessions.Discard(id)
		if err := cfg.Library.DeleteProject(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func documentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if s, ok := cfg.Sessions.Get(id); ok && s.Dirty() {
			if _, err := cfg.Sessions.Save(r.Context(), s); err != nil {
				writeServiceError(w, err)
				return
			}
		}

		rec, err := cfg.Library.GetProject(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		data, err := cfg.Library.ExportDocument(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(rec.Title, "json")))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func timingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		s.Retime()
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func updateCutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := cutIndex(w, r)
		if !ok {
			return
		}
		var req UpdateCutRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Duration != nil && *req.Duration < 0 {
			WriteError(w, http.StatusBadRequest, "duration must not be negative", "BAD_REQUEST")
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		err := s.Update(func(p *timeline.Project) error {
			if i >= len(p.Cuts) {
				return timeline.ErrIndexOutOfRange
			}
			c := p.Cuts[i]
			if req.AutoAdjustDuration != nil {
				c.AutoAdjustDuration = *req.AutoAdjustDuration
			}
			if req.Duration != nil {
				c.Duration = timeline.Round1(*req.Duration)
			}
			return nil
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func moveCutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := cutIndex(w, r)
		if !ok {
			return
		}
		var req MoveCutRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		if err := s.Update(func(p *timeline.Project) error { return p.MoveCut(from, req.To) }); err != nil {
			writeServiceError(w, err)
			return
		}
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func deleteCutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := cutIndex(w, r)
		if !ok {
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		var released []string
		err := s.Update(func(p *timeline.Project) error {
			var err error
			released, err = p.DeleteCut(i)
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, id := range released {
			s.DeleteAudio(id)
		}
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func addDialogueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := cutIndex(w, r)
		if !ok {
			return
		}
		var req AddDialogueRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		postDelay := timeline.NewPostDelay(rand.New(rand.NewSource(time.Now().UnixNano())))
		if req.PostDelay != nil {
			if *req.PostDelay < 0 {
				WriteError(w, http.StatusBadRequest, "post_delay must not be negative", "BAD_REQUEST")
				return
			}
			postDelay = *req.PostDelay
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		err := s.Update(func(p *timeline.Project) error {
			if p.Character(req.CharID) == nil {
				return &timeline.ReferentialError{Entity: "dialogue", ID: "", Ref: req.CharID}
			}
			_, err := p.AddDialogue(i, req.CharID, req.Text, postDelay)
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		commit(cfg, w, r, s, http.StatusCreated)
	}
}

func updateDialogueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "did")
		var req UpdateDialogueRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.PostDelay != nil && *req.PostDelay < 0 {
			WriteError(w, http.StatusBadRequest, "post_delay must not be negative", "BAD_REQUEST")
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		var textChanged bool
		err := s.Update(func(p *timeline.Project) error {
			_, d := p.FindDialogue(id)
			if d == nil {
				return fmt.Errorf("%s: %w", id, errDialogueNotFound)
			}
			if req.CharID != nil {
				if p.Character(*req.CharID) == nil {
					return &timeline.ReferentialError{Entity: "dialogue", ID: id, Ref: *req.CharID}
				}
				d.CharID = *req.CharID
			}
			if req.Text != nil {
				textChanged = d.Text != *req.Text
				if err := p.SetDialogueText(id, *req.Text); err != nil {
					return err
				}
			}
			if req.TTSPrompt != nil {
				d.TTSPrompt = *req.TTSPrompt
			}
			if req.PostDelay != nil {
				d.PostDelay = *req.PostDelay
			}
			return nil
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if textChanged {
			s.DeleteAudio(id)
		}
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func deleteDialogueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "did")
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		err := s.Update(func(p *timeline.Project) error {
			if !p.DeleteDialogue(id) {
				return fmt.Errorf("%s: %w", id, errDialogueNotFound)
			}
			return nil
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		s.DeleteAudio(id)
		commit(cfg, w, r, s, http.StatusOK)
	}
}

func dialogueAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "did")
		data, ok := s.Audio(id)
		if !ok {
			WriteError(w, http.StatusNotFound, "dialogue has no audio", "NOT_FOUND")
			return
		}
		if err := cfg.PlaybackServer.ServeAudio(w, r, data, "audio/wav"); err != nil {
			cfg.Logger.Error("audio serving error", "error", err, "dialogue_id", id)
		}
	}
}
