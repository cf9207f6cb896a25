package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/marriagesignal/studio/internal/export"
	"github.com/marriagesignal/studio/internal/timeline"
)

// exportHandler renders a project as an EDL, a WebVTT subtitle track or a
// zip of dialogue audio. With output_dir set the file is written there and
// the response describes it; otherwise the file is the response body.
func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.ExportRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		format := strings.ToLower(req.Format)
		if !export.Formats[format] {
			WriteError(w, http.StatusBadRequest, "format must be edl, vtt or audio", "BAD_REQUEST")
			return
		}
		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = 30.0
		}

		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		p := s.Snapshot()

		var buf bytes.Buffer
		var count int
		switch format {
		case export.FormatEDL:
			var edl string
			edl, count = export.GenerateEDL(p, p.Title, frameRate)
			buf.WriteString(edl)
		case export.FormatVTT:
			var vtt string
			vtt, count = export.GenerateVTT(p)
			buf.WriteString(vtt)
		case export.FormatAudio:
			var err error
			count, err = export.WriteAudioArchive(r.Context(), &buf, p, s.AudioStore(), cfg.FFmpeg, cfg.Logger)
			if err != nil {
				cfg.Logger.Error("audio export failed", "project_id", s.ID(), "error", err)
				WriteError(w, http.StatusInternalServerError, "failed to build audio archive", "INTERNAL_ERROR")
				return
			}
		}

		if count == 0 {
			WriteError(w, http.StatusUnprocessableEntity, emptyExportMessage(format, p), "NOTHING_TO_EXPORT")
			return
		}

		name := export.FileName(p.Title, format)
		if req.OutputDir == "" {
			w.Header().Set("Content-Type", export.ContentType(format))
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
			w.WriteHeader(http.StatusOK)
			w.Write(buf.Bytes())
			return
		}

		outputPath := filepath.Join(req.OutputDir, name)
		if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		cfg.Logger.Info("project exported", "project_id", s.ID(), "format", format, "path", outputPath, "items", count)
		WriteJSON(w, http.StatusOK, export.ExportResponse{
			Status:     "ok",
			Format:     format,
			OutputPath: outputPath,
			ItemCount:  count,
		})
	}
}

func emptyExportMessage(format string, p *timeline.Project) string {
	switch {
	case len(p.Cuts) == 0:
		return "project has no cuts"
	case format == export.FormatAudio:
		return "no dialogue has audio yet"
	case format == export.FormatVTT:
		return "no dialogue has timing yet"
	default:
		return "no shot has a duration"
	}
}
