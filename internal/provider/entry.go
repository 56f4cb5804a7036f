package provider

import (
	"time"
)

// Upstream datetime strings come either zoned (Nightscout) or bare UTC
// (Dexcom system time).
var entryTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// EntryTime resolves a record's timestamp, preferring the string datetime
// field over the epoch-millisecond field. ok is false when neither parses.
func EntryTime(e Entry, stringField, epochField string) (time.Time, bool) {
	if s, ok := e[stringField].(string); ok && s != "" {
		for _, layout := range entryTimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	if ms, ok := EntryFloat(e, epochField); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// EntryFloat reads a numeric field. JSON numbers decode as float64; anything
// else is not a numeric observation.
func EntryFloat(e Entry, field string) (float64, bool) {
	v, ok := e[field].(float64)
	return v, ok
}

func EntryString(e Entry, field string) string {
	s, _ := e[field].(string)
	return s
}
