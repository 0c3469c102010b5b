package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"monument/api/internal/auth"
	"monument/api/internal/editor"
	"monument/api/internal/framework"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/link" {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RequestSignInLink(r.Context(), strings.TrimSpace(body.Email))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/complete" {
		var body struct {
			Token     string `json:"token"`
			SessionID string `json:"sessionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CompleteSignIn(r.Context(), strings.TrimSpace(body.Token), body.SessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"email":         session.Email,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"userId":       session.UserID,
			"email":        session.Email,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.SignOut(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/template" {
		scale, ok := scaleParam(w, r)
		if !ok {
			return
		}
		doc, err := s.service.Template(r.Context(), scale)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": doc})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/recent" {
		payload, err := s.service.RecentShares(r.Context(), strings.TrimSpace(r.URL.Query().Get("clientId")))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if r.URL.Query().Get("mine") != "1" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "only mine=1 listing is supported", nil)
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.ListMyDocuments(r.Context(), session.UserID, query, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	// Public document read — share-link semantics, no authentication.
	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "documents" {
		scale, ok := scaleParam(w, r)
		if !ok {
			return
		}
		payload, err := s.service.GetDocument(r.Context(), parts[2], scale)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleEditSessions(w, r, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// identity resolves the caller's optional identity from the bearer token.
// Editing routes work unauthenticated; the gate decides what they may do.
func (s *HTTPServer) identity(r *http.Request) *editor.Identity {
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return &editor.Identity{ID: session.UserID, Email: session.Email}
}

func (s *HTTPServer) handleEditSessions(w http.ResponseWriter, r *http.Request, parts []string) {
	user := s.identity(r)

	if r.Method == http.MethodPost && len(parts) == 2 {
		var body struct {
			ClientID string `json:"clientId"`
			ShareID  string `json:"shareId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.BeginEditSession(r.Context(), user, strings.TrimSpace(body.ClientID), strings.TrimSpace(body.ShareID))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	sessionID := parts[2]

	if r.Method == http.MethodGet && len(parts) == 3 {
		payload, err := s.service.EditSessionState(r.Context(), sessionID, user)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if r.Method == http.MethodGet && parts[3] == "watch" {
		s.handleWatch(w, r, sessionID)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var payload map[string]any
	var err error

	switch parts[3] {
	case "edits":
		var body struct {
			DomainID *int   `json:"domainId"`
			Index    *int   `json:"index"`
			Text     string `json:"text"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		if body.DomainID == nil || body.Index == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "domainId and index are required", nil)
			return
		}
		payload, err = s.service.EditPractice(r.Context(), sessionID, user, *body.DomainID, *body.Index, body.Text)
	case "name":
		var body struct {
			Name string `json:"name"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		payload, err = s.service.RenameDocument(r.Context(), sessionID, user, body.Name)
	case "publish":
		var body struct {
			Name string `json:"name"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		payload, err = s.service.PublishDocument(r.Context(), sessionID, user, strings.TrimSpace(body.Name))
	case "fork":
		var body struct {
			Name string `json:"name"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		payload, err = s.service.ForkDocument(r.Context(), sessionID, user, strings.TrimSpace(body.Name))
	case "reset":
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		payload, err = s.service.ResetDocument(r.Context(), sessionID, user, body.Confirm)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleWatch streams session state over SSE, one event per watch delivery.
func (s *HTTPServer) handleWatch(w http.ResponseWriter, r *http.Request, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	sub, err := s.service.WatchSession(sessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.service.hub.Unsubscribe(sub)
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-sub.Events:
			if !open {
				// Replaced by a newer subscription for this session.
				return
			}
			state, err := s.service.ApplyWatchEvent(r.Context(), sessionID, ev)
			if err != nil {
				log.Printf("watch: apply event for %s: %v", sessionID, err)
				continue
			}
			data, err := json.Marshal(state)
			if err != nil {
				log.Printf("watch: marshal state for %s: %v", sessionID, err)
				continue
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the recorder pass through SSE flushes.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// scaleParam reads the optional ?scale= filter. It writes a validation error
// and returns ok=false when the value is not a known scale.
func scaleParam(w http.ResponseWriter, r *http.Request) (framework.Scale, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("scale"))
	if raw == "" {
		return "", true
	}
	scale := framework.Scale(raw)
	if !scale.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scale must be individual, collective, or both", nil)
		return "", false
	}
	return scale, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, editor.ErrDocumentGone) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, editor.ErrSignInRequired) {
		return http.StatusUnauthorized, "SIGN_IN_REQUIRED", "Sign in to save this document", nil
	}
	if errors.Is(err, editor.ErrReadOnly) {
		return http.StatusForbidden, "READ_ONLY", "You do not own this document", nil
	}
	if errors.Is(err, editor.ErrNameRequired) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A document name is required", nil
	}
	if errors.Is(err, editor.ErrConfirmRequired) {
		return http.StatusUnprocessableEntity, "CONFIRM_REQUIRED", "Reset requires confirmation", nil
	}
	if errors.Is(err, editor.ErrSyncFailed) {
		return http.StatusBadGateway, "SYNC_FAILED", "Could not sync the document; your edits are preserved", nil
	}
	if errors.Is(err, editor.ErrNoDocument) {
		return http.StatusConflict, "NO_DOCUMENT", "No document loaded in this session", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
