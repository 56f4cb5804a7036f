package sync

import (
	"time"

	"cgm-sync-service/internal/provider"
	"cgm-sync-service/internal/store"
)

// ReadingMapper maps one raw upstream record to a canonical reading.
type ReadingMapper interface {
	MapEntry(userID string, e provider.Entry) (store.Reading, bool)
}

// TreatmentMapper maps one raw upstream record to a canonical treatment.
type TreatmentMapper interface {
	MapTreatment(userID string, e provider.Entry) (store.Treatment, bool)
}

// NormalizeReadings maps raw records to canonical rows, dropping records
// that cannot be mapped and records older than since. The window boundary is
// inclusive: a record stamped exactly at since is kept. Upstream ordering is
// never trusted; every record is filtered by its own timestamp.
func NormalizeReadings(entries []provider.Entry, m ReadingMapper, userID string, since time.Time) []*store.Reading {
	rows := make([]*store.Reading, 0, len(entries))
	for _, e := range entries {
		row, ok := m.MapEntry(userID, e)
		if !ok {
			continue
		}
		if row.DeviceTime.Before(since) {
			continue
		}
		rows = append(rows, &row)
	}
	return rows
}

// NormalizeTreatments applies the same mapping and window filter to
// treatment records.
func NormalizeTreatments(entries []provider.Entry, m TreatmentMapper, userID string, since time.Time) []*store.Treatment {
	rows := make([]*store.Treatment, 0, len(entries))
	for _, e := range entries {
		row, ok := m.MapTreatment(userID, e)
		if !ok {
			continue
		}
		if row.EventTime.Before(since) {
			continue
		}
		rows = append(rows, &row)
	}
	return rows
}
