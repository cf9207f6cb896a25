package playback

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// Server answers byte-range requests for dialogue audio held in memory.
type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

func (s *Server) ServeAudio(w http.ResponseWriter, r *http.Request, data []byte, contentType string) error {
	size := int64(len(data))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch err {
	case nil:
	case ErrUnsatisfiable:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case ErrInvalidRange:
		// Malformed ranges are ignored and the full body is sent.
		rng = nil
	default:
		return err
	}

	body := data
	status := http.StatusOK
	if rng != nil {
		body = rng.Slice(data)
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", rng.ContentRange(size))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := w.Write(body); err != nil && s.logger != nil {
		s.logger.Debug("audio write aborted", "error", err)
	}
	return nil
}
