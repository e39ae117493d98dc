package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports the trail as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports the trail as a JSON object with a validity flag.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures audit trail export parameters.
type ExportOptions struct {
	Format ExportFormat // Export format (csv or json)
	From   time.Time    // Start of time range (inclusive)
	To     time.Time    // End of time range (inclusive)
	Limit  int          // Maximum number of entries to export (0 = no limit)
}

// ExportTrail exports a document's audit trail in the requested format.
// The trail is verified first; consumers generating compliance artifacts
// (e.g. signing certificates) must refuse to proceed when the exported
// trail reports valid=false.
func (s *Service) ExportTrail(ctx context.Context, documentID string, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	trail, err := s.ReadTrail(ctx, documentID)
	if err != nil {
		return nil, err
	}

	entries := trail.Entries
	if !opts.From.IsZero() || !opts.To.IsZero() {
		entries = filterByTimeRange(entries, opts.From, opts.To)
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(entries)
	default:
		return exportToJSON(trail.DocumentID, entries, trail.Valid)
	}
}

// filterByTimeRange filters entries to only include those within the range.
func filterByTimeRange(entries []*Entry, from, to time.Time) []*Entry {
	var filtered []*Entry
	for _, e := range entries {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// exportToCSV exports audit entries to CSV format.
func exportToCSV(entries []*Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Timestamp (UTC)",
		"Document ID",
		"Event Type",
		"User ID",
		"Recipient ID",
		"Payload",
		"IP Address",
		"User Agent",
		"Entry Hash",
		"Previous Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.DocumentID,
			e.EventType,
			e.UserID,
			e.RecipientID,
			string(e.Payload),
			e.IPAddress,
			e.UserAgent,
			e.EntryHash,
			e.PreviousHash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// exportToJSON exports audit entries to JSON format.
func exportToJSON(documentID string, entries []*Entry, valid bool) ([]byte, error) {
	type exportEntry struct {
		ID           string          `json:"id"`
		Timestamp    string          `json:"timestamp"` // ISO 8601 format
		DocumentID   string          `json:"document_id"`
		EventType    string          `json:"event_type"`
		UserID       string          `json:"user_id,omitempty"`
		RecipientID  string          `json:"recipient_id,omitempty"`
		Payload      json.RawMessage `json:"payload,omitempty"`
		IPAddress    string          `json:"ip_address,omitempty"`
		UserAgent    string          `json:"user_agent,omitempty"`
		EntryHash    string          `json:"entry_hash"`
		PreviousHash string          `json:"previous_hash,omitempty"`
	}

	exportEntries := make([]exportEntry, len(entries))
	for i, e := range entries {
		exportEntries[i] = exportEntry{
			ID:           e.ID,
			Timestamp:    e.CreatedAt.Format(time.RFC3339),
			DocumentID:   e.DocumentID,
			EventType:    e.EventType,
			UserID:       e.UserID,
			RecipientID:  e.RecipientID,
			Payload:      e.Payload,
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			EntryHash:    e.EntryHash,
			PreviousHash: e.PreviousHash,
		}
	}

	out := struct {
		DocumentID string        `json:"document_id"`
		Valid      bool          `json:"valid"`
		Entries    []exportEntry `json:"entries"`
	}{
		DocumentID: documentID,
		Valid:      valid,
		Entries:    exportEntries,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
