package model

import (
	"errors"
	"strings"
)

// FieldCount is the number of positional fields in a serialized record.
const FieldCount = 11

// Delimiter separates fields in a serialized record.
const Delimiter = ','

var ErrFieldCount = errors.New("record line does not have 11 fields")

// Record is a snapshot of one intercepted file-system operation.
// The zero value is a record whose fields are all empty.
type Record struct {
	name      string
	timestamp string
	threadID  string
	processID string
	node      string
	fd        string
	path      string
	newPath   string
	offset    string
	size      string
	result    string
}

// NewRecord builds a record from its 11 fields in serialization order.
func NewRecord(name, timestamp, threadID, processID, node, descriptor, path, newPath, offset, size, result string) Record {
	return Record{
		name:      name,
		timestamp: timestamp,
		threadID:  threadID,
		processID: processID,
		node:      node,
		fd:        descriptor,
		path:      path,
		newPath:   newPath,
		offset:    offset,
		size:      size,
		result:    result,
	}
}

// NewOperation builds a record carrying only the operation name.
func NewOperation(name string) Record {
	return Record{name: name}
}

func (r Record) Name() string       { return r.name }
func (r Record) Timestamp() string  { return r.timestamp }
func (r Record) ThreadID() string   { return r.threadID }
func (r Record) ProcessID() string  { return r.processID }
func (r Record) Node() string       { return r.node }
func (r Record) Descriptor() string { return r.fd }
func (r Record) Path() string       { return r.path }
func (r Record) NewPath() string    { return r.newPath }
func (r Record) Offset() string     { return r.offset }
func (r Record) Size() string       { return r.size }
func (r Record) Result() string     { return r.result }

// Fields returns the record's fields in serialization order.
func (r Record) Fields() [FieldCount]string {
	return [FieldCount]string{
		r.name, r.timestamp, r.threadID, r.processID, r.node,
		r.fd, r.path, r.newPath, r.offset, r.size, r.result,
	}
}

// Serialize renders the record as one comma-separated line without the
// trailing newline. Fields holding the delimiter, a line break or '%' are
// percent-escaped so the line always splits back into 11 fields.
func (r Record) Serialize() string {
	var b strings.Builder
	b.Grow(r.rawLen() + FieldCount)
	for i, f := range r.Fields() {
		if i > 0 {
			b.WriteByte(Delimiter)
		}
		writeEscaped(&b, f)
	}
	return b.String()
}

// AppendLine appends the serialized record and a newline to dst.
func (r Record) AppendLine(dst []byte) []byte {
	return append(append(dst, r.Serialize()...), '\n')
}

// Footprint is the number of bytes the record occupies in a text artifact.
func (r Record) Footprint() int64 {
	n := r.rawLen() + FieldCount // 10 delimiters + newline
	for _, f := range r.Fields() {
		n += 2 * strings.Count(f, "%")
		n += 2 * strings.Count(f, ",")
		n += 2 * strings.Count(f, "\n")
		n += 2 * strings.Count(f, "\r")
	}
	return int64(n)
}

func (r Record) rawLen() int {
	n := 0
	for _, f := range r.Fields() {
		n += len(f)
	}
	return n
}

// ParseLine decodes a line produced by Serialize. A trailing newline is
// tolerated.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, string(Delimiter))
	if len(parts) != FieldCount {
		return Record{}, ErrFieldCount
	}
	for i, p := range parts {
		parts[i] = unescape(p)
	}
	return NewRecord(parts[0], parts[1], parts[2], parts[3], parts[4],
		parts[5], parts[6], parts[7], parts[8], parts[9], parts[10]), nil
}

func writeEscaped(b *strings.Builder, s string) {
	if !strings.ContainsAny(s, "%,\n\r") {
		b.WriteString(s)
		return
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '%':
			b.WriteString("%25")
		case ',':
			b.WriteString("%2C")
		case '\n':
			b.WriteString("%0A")
		case '\r':
			b.WriteString("%0D")
		default:
			b.WriteByte(c)
		}
	}
}

func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			switch s[i+1 : i+3] {
			case "25":
				b.WriteByte('%')
				i += 2
				continue
			case "2C":
				b.WriteByte(',')
				i += 2
				continue
			case "0A":
				b.WriteByte('\n')
				i += 2
				continue
			case "0D":
				b.WriteByte('\r')
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
