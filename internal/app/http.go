package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockroom/api/internal/search"
	"stockroom/api/internal/store"
	"stockroom/api/internal/tree"
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

	if r.URL.Path == "/api/items" {
		switch r.Method {
		case http.MethodGet:
			s.handleListItems(w, r)
		case http.MethodPost:
			s.handleCreateItem(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/items/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/items/history" {
		payload, err := s.service.ListHistory(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": payload})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/verify" {
		report, err := s.service.VerifyForests(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		ok := true
		for _, result := range report {
			if result != "ok" {
				ok = false
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "forests": report})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "items" {
		s.handleItem(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleItem dispatches /api/items/{id} and its subresources; rest holds
// the path segments after the id.
func (s *HTTPServer) handleItem(w http.ResponseWriter, r *http.Request, itemID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetItem(r.Context(), itemID)
			s.respond(w, payload, err, http.StatusOK)
		case http.MethodPut:
			s.handleUpdateItem(w, r, itemID, false)
		case http.MethodPatch:
			s.handleUpdateItem(w, r, itemID, true)
		case http.MethodDelete:
			if err := s.service.DeleteItem(r.Context(), itemID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && r.Method == http.MethodGet {
		switch rest[0] {
		case "tree":
			payload, err := s.service.GetTree(r.Context(), itemID)
			s.respond(w, payload, err, http.StatusOK)
			return
		case "breadcrumb":
			payload, err := s.service.GetBreadcrumb(r.Context(), itemID)
			s.respond(w, payload, err, http.StatusOK)
			return
		case "siblings":
			payload, err := s.service.GetSiblings(r.Context(), itemID)
			s.respond(w, payload, err, http.StatusOK)
			return
		case "ancestors":
			payload, err := s.service.GetAncestors(r.Context(), itemID, queryBool(r, "includeSelf"))
			s.respond(w, payload, err, http.StatusOK)
			return
		case "descendants":
			payload, err := s.service.GetDescendants(r.Context(), itemID, queryBool(r, "includeSelf"))
			s.respond(w, payload, err, http.StatusOK)
			return
		}
	}

	if len(rest) == 1 && rest[0] == "parent" && r.Method == http.MethodPut {
		var body struct {
			ParentID *string `json:"parentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.MoveItem(r.Context(), itemID, body.ParentID)
		s.respond(w, payload, err, http.StatusOK)
		return
	}

	if rest[0] == "notes" {
		switch {
		case len(rest) == 1 && r.Method == http.MethodPost:
			var body NoteInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AddNote(r.Context(), itemID, body)
			s.respond(w, payload, err, http.StatusCreated)
		case len(rest) == 2 && r.Method == http.MethodDelete:
			if err := s.service.DeleteNote(r.Context(), itemID, rest[1]); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest[0] == "emails" {
		switch {
		case len(rest) == 1 && r.Method == http.MethodPost:
			var body EmailInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AddEmail(r.Context(), itemID, body)
			s.respond(w, payload, err, http.StatusCreated)
		case len(rest) == 2 && r.Method == http.MethodDelete:
			if err := s.service.DeleteEmail(r.Context(), itemID, rest[1]); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest[0] == "attachments" {
		s.handleAttachments(w, r, itemID, rest[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	hierarchical := true
	if raw := strings.TrimSpace(r.URL.Query().Get("hierarchical")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hierarchical must be a boolean", nil)
			return
		}
		hierarchical = parsed
	}
	payload, err := s.service.ListItems(r.Context(), hierarchical)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": payload})
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var body CreateItemInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateItem(r.Context(), body)
	s.respond(w, payload, err, http.StatusCreated)
}

func (s *HTTPServer) handleUpdateItem(w http.ResponseWriter, r *http.Request, itemID string, partial bool) {
	var body UpdateItemInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateItem(r.Context(), itemID, body, partial)
	s.respond(w, payload, err, http.StatusOK)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:        strings.TrimSpace(r.URL.Query().Get("q")),
		Name:        strings.TrimSpace(r.URL.Query().Get("name")),
		Description: strings.TrimSpace(r.URL.Query().Get("description")),
		QRCode:      strings.TrimSpace(r.URL.Query().Get("qr_code")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		q.Limit = parsed
	}

	payload, err := s.service.Search(r.Context(), q)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": payload})
}

// maxMultipartMemory bounds the in-memory part of an upload; larger files
// spill to disk inside ParseMultipartForm.
const maxMultipartMemory = 8 << 20

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, itemID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form with a file field", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
				map[string][]string{"file": {"This field is required"}})
			return
		}
		defer file.Close()

		payload, err := s.service.AddAttachment(r.Context(), itemID, AttachmentInput{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     file,
		})
		s.respond(w, payload, err, http.StatusCreated)

	case len(rest) == 2 && rest[1] == "content" && r.Method == http.MethodGet:
		content, att, err := s.service.GetAttachmentContent(r.Context(), itemID, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer content.Close()
		w.Header().Set("Content-Type", att.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
		w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, content); err != nil {
			log.Printf("stream attachment %s: %v", rest[0], err)
		}

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteAttachment(r.Context(), itemID, rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error, status int) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, tree.ErrCircularDependency) {
		return http.StatusBadRequest, "CIRCULAR_DEPENDENCY",
			"Invalid move - would create circular dependency", nil
	}
	if errors.Is(err, tree.ErrInvariantViolation) {
		return http.StatusInternalServerError, "INVARIANT_VIOLATION", "Tree invariant violated", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func queryBool(r *http.Request, key string) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false
	}
	parsed, err := strconv.ParseBool(raw)
	return err == nil && parsed
}
