package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
)

// RecordView is how an offline record is printed and exported. The payload
// is decoded so YAML output stays readable.
type RecordView struct {
	ID        string     `json:"id" yaml:"id"`
	Kind      string     `json:"kind" yaml:"kind"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Synced    bool       `json:"synced" yaml:"synced"`
	SyncedAt  *time.Time `json:"synced_at,omitempty" yaml:"synced_at,omitempty"`
	Payload   any        `json:"payload" yaml:"payload"`
}

func recordViews(records []domain.OfflineRecord) []RecordView {
	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		var payload any
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			payload = string(r.Payload)
		}
		views = append(views, RecordView{
			ID:        r.ID.String(),
			Kind:      r.Kind.String(),
			CreatedAt: r.CreatedAt,
			Synced:    r.Synced,
			SyncedAt:  r.SyncedAt,
			Payload:   payload,
		})
	}
	return views
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// writeRecords prints records as a table, or encoded in format.
func writeRecords(w io.Writer, format string, records []domain.OfflineRecord) error {
	if format != "text" {
		return writeStructured(w, format, recordViews(records))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tKIND\tCREATED\tSYNCED")
	for _, r := range records {
		synced := "no"
		if r.Synced && r.SyncedAt != nil {
			synced = r.SyncedAt.Local().Format(time.DateTime)
		} else if r.Synced {
			synced = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.CreatedAt.Local().Format(time.DateTime), synced)
	}
	return tw.Flush()
}

func writeSummary(w io.Writer, format string, s domain.SyncSummary) error {
	if format != "text" {
		return writeStructured(w, format, s)
	}
	_, err := fmt.Fprintf(w, "synced %d of %d records (%d failed) in %s\n",
		s.Succeeded, s.Attempted, s.Failed, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	return err
}
