package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

func playbackStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, s.Playback())
	}
}

func playbackControlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		switch chi.URLParam(r, "action") {
		case "play":
			if err := s.Play(); err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "AUDIO_UNAVAILABLE")
				return
			}
		case "pause":
			s.Pause()
		case "stop":
			s.Stop()
		case "seek":
			var req SeekRequest
			if !decodeBody(r, &req) {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
			if err := s.Seek(req.Position); err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "AUDIO_UNAVAILABLE")
				return
			}
		default:
			WriteError(w, http.StatusNotFound, "unknown playback action", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, s.Playback())
	}
}

func eventsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return isLoopbackRemoteAddr(r.RemoteAddr)
			}
			return isAllowedOrigin(origin)
		},
	}
}

// eventsHandler streams the project's engine events over a websocket.
func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	upgrader := eventsUpgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub, cancel := cfg.Bus.Subscribe()
		defer cancel()

		// Reads only detect the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(map[string]any{"type": "snapshot", "project_id": s.ID(), "playback": s.Playback()}); err != nil {
			return
		}

		ping := time.NewTicker(eventPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case e, ok := <-sub:
				if !ok {
					return
				}
				if e.ProjectID != "" && e.ProjectID != s.ID() {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
				if err := conn.WriteJSON(e); err != nil {
					cfg.Logger.Debug("event stream closed", "project_id", s.ID(), "error", err)
					return
				}
			}
		}
	}
}
