package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// GapArchiveStore provides read access to aged observations.
type GapArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.GapObservation, error)
}

// Archiver implements domain.Archiver by writing aged gap observations to
// object storage as one JSONL file per observation date. It never deletes;
// the retention sweep does that once the upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	gaps   GapArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, gaps GapArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, gaps: gaps, audit: audit}
}

var _ domain.Archiver = (*Archiver)(nil)

// gapRecord is the archived form of one observation.
type gapRecord struct {
	InstrumentID int64    `json:"instrument_id"`
	Date         string   `json:"date"`
	TimeSlot     string   `json:"time_slot"`
	Gap1         *float64 `json:"gap_1"`
	Gap2         *float64 `json:"gap_2"`
	Price1       *float64 `json:"price_1"`
	Price2       *float64 `json:"price_2"`
	Price3       *float64 `json:"price_3"`
	ObservedAt   string   `json:"observed_at"`
}

// ArchiveGapObservations uploads every observation dated before the cutoff
// to archive/gap_observations/YYYY-MM-DD.jsonl and returns the number of
// rows written.
func (a *Archiver) ArchiveGapObservations(ctx context.Context, before time.Time) (int64, error) {
	obs, err := a.gaps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive gaps query: %w", err)
	}
	if len(obs) == 0 {
		return 0, nil
	}

	byDate := make(map[string][]gapRecord)
	var dates []string
	for _, o := range obs {
		d := o.Date.Format(time.DateOnly)
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], gapRecord{
			InstrumentID: o.InstrumentID,
			Date:         d,
			TimeSlot:     o.TimeSlot,
			Gap1:         o.Gap1,
			Gap2:         o.Gap2,
			Price1:       o.Price1,
			Price2:       o.Price2,
			Price3:       o.Price3,
			ObservedAt:   o.ObservedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	var count int64
	var paths []string
	for _, d := range dates {
		buf, err := marshalJSONL(byDate[d])
		if err != nil {
			return count, fmt.Errorf("s3blob: archive gaps marshal %s: %w", d, err)
		}

		path := "archive/gap_observations/" + d + ".jsonl"
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return count, fmt.Errorf("s3blob: archive gaps upload %s: %w", path, err)
		}
		count += int64(len(byDate[d]))
		paths = append(paths, path)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.gap_observations", map[string]any{
			"paths":  paths,
			"count":  count,
			"before": before.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive gaps audit log: %w", err)
		}
	}
	return count, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
