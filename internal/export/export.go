// Package export turns artifacts into JSON documents for analysis tools.
package export

import (
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/iotrace/internal/model"
	"github.com/coffersTech/iotrace/internal/storage"
)

// Entry is the JSON view of one record. Numeric fields are emitted as
// numbers when they parse, empty fields as null.
type Entry struct {
	SystemCall  string  `json:"systemcall"`
	Type        string  `json:"type"`
	Timestamp   string  `json:"timestamp"`
	TID         any     `json:"tid"`
	PID         any     `json:"pid"`
	Node        string  `json:"node"`
	Descriptor  *int64  `json:"descriptor"`
	Path        *string `json:"path"`
	NewPath     *string `json:"new_path"`
	Offset      *int64  `json:"offset"`
	Size        *int64  `json:"size"`
	ReturnValue any     `json:"return_value"`

	nanos int64
}

// FromRecord converts a record.
func FromRecord(rec model.Record) Entry {
	e := Entry{
		SystemCall:  rec.Name(),
		Type:        string(model.CategoryOf(rec.Name())),
		Timestamp:   rec.Timestamp(),
		TID:         numberOrString(rec.ThreadID()),
		PID:         numberOrString(rec.ProcessID()),
		Node:        rec.Node(),
		Descriptor:  optionalInt(rec.Descriptor()),
		Path:        optionalString(rec.Path()),
		NewPath:     optionalString(rec.NewPath()),
		Offset:      optionalInt(rec.Offset()),
		Size:        optionalInt(rec.Size()),
		ReturnValue: returnValue(rec.Result()),
	}
	if ns, err := strconv.ParseInt(rec.Timestamp(), 10, 64); err == nil {
		e.nanos = ns
		e.Timestamp = time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
	}
	return e
}

// Artifact converts every record of one artifact, in file order.
func Artifact(path string) ([]Entry, error) {
	recs, err := storage.ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(recs))
	for i, rec := range recs {
		out[i] = FromRecord(rec)
	}
	return out, nil
}

// Artifacts converts several artifacts and concatenates them.
func Artifacts(paths []string) ([]Entry, error) {
	var out []Entry
	for _, p := range paths {
		entries, err := Artifact(p)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Combine merges the artifacts in dir per process id, each process's
// entries sorted by timestamp. Records of one thread keep their order.
func Combine(dir string) (map[string][]Entry, error) {
	paths, err := storage.ListArtifacts(dir)
	if err != nil {
		return nil, err
	}

	combined := make(map[string][]Entry)
	for _, p := range paths {
		pid, _, err := storage.ParseArtifactName(p)
		if err != nil {
			continue
		}
		entries, err := Artifact(p)
		if err != nil {
			return nil, err
		}
		combined[pid] = append(combined[pid], entries...)
	}

	for _, entries := range combined {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].nanos < entries[j].nanos
		})
	}
	return combined, nil
}

// WriteJSON writes entries as an indented JSON array.
func WriteJSON(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}

func numberOrString(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func optionalInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// returnValue keeps non-negative counts numeric and everything else,
// including -1 and error text, as a string.
func returnValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseUint(s, 10, 63); err == nil {
		return int64(n)
	}
	return s
}
