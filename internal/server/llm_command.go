package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deskline/internal/dispatch"
	"deskline/internal/engine/auth"
)

type llmCommandRequest struct {
	Text string `json:"text"`
}

type llmCommandError struct {
	Error string `json:"error"`
}

// registerLLMCommand mounts POST /llm-command outside the versioned API. Its
// errors are {error: string}; preflight is answered before authentication.
func registerLLMCommand(r chi.Router, cfg Config) {
	log := cfg.Logger.Named("llm-command")
	r.HandleFunc("/llm-command", func(w http.ResponseWriter, req *http.Request) {
		setCORSHeaders(w, req, cfg.CORSOrigins)
		switch req.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			writeCommandError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		token, ok := bearerToken(req.Header.Get("Authorization"))
		if !ok {
			writeCommandError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		principal, err := authenticateJWT(token, cfg.Auth.JWTSecret)
		if err != nil {
			log.Debug("token rejected", zap.Error(err))
			writeCommandError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if err := cfg.Engine.Auth.Require(req.Context(), principal.UserID, auth.PermCommandsRun); err != nil {
			var fe auth.ForbiddenError
			if errors.As(err, &fe) {
				writeCommandError(w, http.StatusForbidden, err.Error())
				return
			}
			writeCommandError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var body llmCommandRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeCommandError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeCommandError(w, http.StatusBadRequest, dispatch.ErrEmptyText.Error())
			return
		}
		if cfg.Dispatcher == nil {
			writeCommandError(w, http.StatusInternalServerError, "no model configured")
			return
		}

		resp, err := cfg.Dispatcher.Dispatch(req.Context(), body.Text)
		if err != nil {
			status := http.StatusInternalServerError
			var stage *dispatch.StageError
			if errors.As(err, &stage) && stage.Stage == dispatch.StageModel {
				status = http.StatusBadGateway
			}
			if errors.Is(err, dispatch.ErrEmptyText) {
				status = http.StatusBadRequest
			}
			log.Info("command failed", zap.String("user", principal.UserID), zap.Int("status", status), zap.Error(err))
			writeCommandError(w, status, err.Error())
			return
		}
		log.Info("command handled",
			zap.String("user", principal.UserID),
			zap.String("kind", string(resp.Result.Kind)),
			zap.Duration("took", resp.ProcessingTime),
		)
		writeJSON(w, http.StatusOK, llmResponse(resp))
	})
}

// setCORSHeaders allows any origin unless an allow-list is configured.
func setCORSHeaders(w http.ResponseWriter, req *http.Request, origins []string) {
	origin := "*"
	if len(origins) > 0 {
		origin = ""
		reqOrigin := req.Header.Get("Origin")
		for _, o := range origins {
			if o == "*" || o == reqOrigin {
				origin = o
				break
			}
		}
		if origin == "" {
			origin = origins[0]
		}
		w.Header().Add("Vary", "Origin")
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Max-Age", "86400")
}

func writeCommandError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, llmCommandError{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
