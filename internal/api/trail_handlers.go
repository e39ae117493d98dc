package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inkmark/inkmark/internal/ledger"
	"github.com/inkmark/inkmark/internal/middleware"
)

// EntryResponse is the API shape of a single audit trail entry.
type EntryResponse struct {
	ID           string          `json:"id"`
	DocumentID   string          `json:"document_id"`
	EventType    string          `json:"event_type"`
	UserID       string          `json:"user_id,omitempty"`
	RecipientID  string          `json:"recipient_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	EntryHash    string          `json:"entry_hash"`
	PreviousHash string          `json:"previous_hash,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TrailResponse is the API shape of a document's audit trail.
// Valid reports whether the hash chain verified on read.
type TrailResponse struct {
	DocumentID string          `json:"document_id"`
	Valid      bool            `json:"valid"`
	Entries    []EntryResponse `json:"entries"`
}

// TrailHandlers holds dependencies for audit trail HTTP handlers.
type TrailHandlers struct {
	svc *ledger.Service
}

// NewTrailHandlers creates a new TrailHandlers instance.
func NewTrailHandlers(svc *ledger.Service) *TrailHandlers {
	return &TrailHandlers{svc: svc}
}

func entryResponse(e *ledger.Entry) EntryResponse {
	return EntryResponse{
		ID:           e.ID,
		DocumentID:   e.DocumentID,
		EventType:    e.EventType,
		UserID:       e.UserID,
		RecipientID:  e.RecipientID,
		Payload:      e.Payload,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		EntryHash:    e.EntryHash,
		PreviousHash: e.PreviousHash,
		CreatedAt:    e.CreatedAt,
	}
}

// documentIDFromPath extracts the document ID from paths of the form
// /documents/{id}/<suffix...>. Returns empty string if the path does not match.
func documentIDFromPath(path, suffix string) string {
	rest, ok := strings.CutPrefix(path, "/documents/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// GetTrail handles GET /documents/{id}/trail - returns the full audit trail
// with the chain verification result.
func (h *TrailHandlers) GetTrail(w http.ResponseWriter, r *http.Request) {
	documentID := documentIDFromPath(r.URL.Path, "trail")
	if documentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Document ID is required")
		return
	}

	trail, err := h.svc.ReadTrail(r.Context(), documentID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to read audit trail")
		return
	}

	resp := TrailResponse{
		DocumentID: trail.DocumentID,
		Valid:      trail.Valid,
		Entries:    make([]EntryResponse, 0, len(trail.Entries)),
	}
	for _, e := range trail.Entries {
		resp.Entries = append(resp.Entries, entryResponse(e))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// ExportTrail handles GET /documents/{id}/trail/export?format=csv|json.
// Optional query parameters: from, to (RFC 3339) and limit.
func (h *TrailHandlers) ExportTrail(w http.ResponseWriter, r *http.Request) {
	documentID := documentIDFromPath(r.URL.Path, "trail/export")
	if documentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Document ID is required")
		return
	}

	query := r.URL.Query()

	format := ledger.ExportFormat(query.Get("format"))
	if format == "" {
		format = ledger.ExportFormatJSON
	}
	if format != ledger.ExportFormatCSV && format != ledger.ExportFormatJSON {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedFormat)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnsupportedFormat, "Format must be csv or json")
		return
	}

	opts := ledger.ExportOptions{Format: format}

	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "from must be an RFC 3339 timestamp")
			return
		}
		opts.From = from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "to must be an RFC 3339 timestamp")
			return
		}
		opts.To = to
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	data, err := h.svc.ExportTrail(r.Context(), documentID, opts)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit trail")
		return
	}

	switch format {
	case ledger.ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="trail-`+documentID+`.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
