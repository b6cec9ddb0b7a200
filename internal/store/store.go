package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(val string) time.Time {
	if val == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func nullStr(val string) interface{} {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func boolToInt(val bool) int {
	if val {
		return 1
	}
	return 0
}

func marshalStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func unmarshalStringMap(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// Port maps are stored with string keys since JSON objects cannot have
// numeric keys.
func marshalPortMap(m map[uint16]uint16) string {
	out := make(map[string]uint16, len(m))
	for host, cont := range m {
		out[strconv.Itoa(int(host))] = cont
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func unmarshalPortMap(raw string) map[uint16]uint16 {
	out := map[uint16]uint16{}
	if raw == "" {
		return out
	}
	tmp := map[string]uint16{}
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return map[uint16]uint16{}
	}
	for host, cont := range tmp {
		parsed, err := strconv.ParseUint(host, 10, 16)
		if err != nil {
			continue
		}
		out[uint16(parsed)] = cont
	}
	return out
}

func scanErr(entity string, err error) error {
	return fmt.Errorf("scan %s: %w", entity, err)
}
