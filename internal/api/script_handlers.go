package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/marriagesignal/studio/internal/generation"
)

const maxScriptRunes = 20000

const defaultTranslateLang = "Korean"

// improveScriptHandler rewrites a draft script before it is used as the
// reference for a story. The call is synchronous.
func improveScriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImproveScriptRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		req.Script = strings.TrimSpace(req.Script)
		if req.Script == "" {
			WriteError(w, http.StatusBadRequest, "script is required", "BAD_REQUEST")
			return
		}
		if len([]rune(req.Script)) > maxScriptRunes {
			WriteError(w, http.StatusBadRequest, "script is too long", "BAD_REQUEST")
			return
		}

		script, err := cfg.Generator.ImproveScript(r.Context(), strings.TrimSpace(req.Keywords), req.Script)
		if err != nil {
			writeGenerationError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ImproveScriptResponse{Script: script})
	}
}

func translateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TranslateRequest
		if !decodeBody(r, &req) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			WriteError(w, http.StatusBadRequest, "text is required", "BAD_REQUEST")
			return
		}
		lang := strings.TrimSpace(req.TargetLang)
		if lang == "" {
			lang = defaultTranslateLang
		}

		text, err := cfg.Generator.Translate(r.Context(), req.Text, lang)
		if err != nil {
			writeGenerationError(cfg, w, err)
			return
		}
		WriteJSON(w, http.StatusOK, TranslateResponse{Text: text, TargetLang: lang})
	}
}

// writeGenerationError answers 503 for failures worth retrying later and
// 502 for the rest.
func writeGenerationError(cfg ServerConfig, w http.ResponseWriter, err error) {
	cfg.Logger.Warn("generation request failed", "error", err)
	var genErr *generation.GenerationError
	if errors.As(err, &genErr) && genErr.IsRetryable() {
		w.Header().Set("Retry-After", "5")
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "GENERATION_UNAVAILABLE")
		return
	}
	WriteError(w, http.StatusBadGateway, err.Error(), "GENERATION_FAILED")
}
