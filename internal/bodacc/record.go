package bodacc

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is one announcement returned by the search API.
//
// The fixed fields are the ones the watcher sorts and deduplicates on. Every
// other attribute stays in Fields, read through the total accessors below.
type Record struct {
	ID              string
	DatasetID       string
	PublicationDate string // YYYY-MM-DD, empty if absent
	SequenceNumber  int64  // 0 if absent or not numeric
	Fields          map[string]any
}

type wireRecord struct {
	RecordID  string         `json:"recordid"`
	DatasetID string         `json:"datasetid"`
	Fields    map[string]any `json:"fields"`
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Fields == nil {
		w.Fields = map[string]any{}
	}
	*r = Record{
		ID:        w.RecordID,
		DatasetID: w.DatasetID,
		Fields:    w.Fields,
	}
	r.PublicationDate = r.String("dateparution")
	r.SequenceNumber = r.Int("numeroannonce")
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{RecordID: r.ID, DatasetID: r.DatasetID, Fields: r.Fields})
}

// String returns the field as text. Numbers and booleans are rendered,
// anything else (missing, null, objects) yields "".
func (r Record) String(key string) string {
	return AsString(r.Fields[key])
}

// Int returns the field as an integer, accepting numbers and numeric strings.
func (r Record) Int(key string) int64 {
	switch v := r.Fields[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
	}
	return 0
}

// Doc returns a sub-document. The API serves some of them as JSON text and
// some already decoded; both are accepted. Unparseable values yield nil.
func (r Record) Doc(key string) map[string]any {
	return AsDoc(r.Fields[key])
}

// AsString is the total string conversion used by the accessors.
func AsString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// AsDoc is the total object conversion used by the accessors.
func AsDoc(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s[0] != '{' {
			return nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil
		}
		return m
	default:
		return nil
	}
}
