package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExportRecord is the flat form of a Record used by `finsight audit export`.
type ExportRecord struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	Tier         string    `json:"tier"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMS   int64     `json:"duration_ms"`
	HasError     bool      `json:"has_error"`
	SourcesUsed  []string  `json:"sources_used,omitempty"`
	SourcesStale []string  `json:"sources_stale,omitempty"`
	Omitted      []string  `json:"omitted,omitempty"`
	PIIRedacted  []string  `json:"pii_redacted,omitempty"`
	PromptHash   string    `json:"prompt_hash"`
	AnswerHash   string    `json:"answer_hash,omitempty"`
}

// ToExportRecord flattens rec.
func ToExportRecord(rec *Record) ExportRecord {
	out := ExportRecord{
		ID:           rec.ID,
		RequestID:    rec.RequestID,
		Timestamp:    rec.Timestamp,
		UserID:       rec.UserID,
		Tier:         rec.Tier,
		Model:        rec.Model.Name,
		InputTokens:  rec.Model.InputTokens,
		OutputTokens: rec.Model.OutputTokens,
		CostUSD:      rec.Model.CostUSD,
		DurationMS:   rec.DurationMS,
		HasError:     rec.Error != "",
		PIIRedacted:  append([]string(nil), rec.Question.PIIRedacted...),
		PromptHash:   rec.Hashes.Prompt,
		AnswerHash:   rec.Hashes.Answer,
	}
	out.SourcesUsed = append(append([]string(nil), rec.Sources.Live...), rec.Sources.Cached...)
	out.SourcesStale = append([]string(nil), rec.Sources.Stale...)
	for _, o := range rec.Sources.Omitted {
		out.Omitted = append(out.Omitted, o.SourceID+":"+o.Reason)
	}
	return out
}

var csvHeader = []string{
	"id", "request_id", "timestamp", "user_id", "tier", "model",
	"input_tokens", "output_tokens", "cost_usd", "duration_ms", "has_error",
	"sources_used", "sources_stale", "omitted", "pii_redacted", "prompt_hash", "answer_hash",
}

// WriteCSV writes recs with a header row.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range recs {
		r := ToExportRecord(&recs[i])
		row := []string{
			r.ID, r.RequestID, r.Timestamp.Format(time.RFC3339), r.UserID, r.Tier, r.Model,
			strconv.Itoa(r.InputTokens), strconv.Itoa(r.OutputTokens),
			strconv.FormatFloat(r.CostUSD, 'f', 6, 64),
			strconv.FormatInt(r.DurationMS, 10), strconv.FormatBool(r.HasError),
			strings.Join(r.SourcesUsed, ","), strings.Join(r.SourcesStale, ","),
			strings.Join(r.Omitted, ","), strings.Join(r.PIIRedacted, ","),
			r.PromptHash, r.AnswerHash,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes recs as an indented JSON array of export records.
func WriteJSON(w io.Writer, recs []Record) error {
	out := make([]ExportRecord, 0, len(recs))
	for i := range recs {
		out = append(out, ToExportRecord(&recs[i]))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}
