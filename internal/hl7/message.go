package hl7

import (
	"fmt"
	"strings"
)

// Segment is one tokenized message line. Fields are kept in wire order with
// index 0 holding the segment name. Malformed lines keep their raw text and
// are carried through untouched so a scan can flag them without aborting.
type Segment struct {
	Name      string
	Fields    []string
	Raw       string
	Malformed bool
}

// Message is the tokenized view of a single HL7 v2 message.
type Message struct {
	Segments []Segment
}

const fieldSep = "|"

// Parse tokenizes pipe-delimited message content. It is deliberately
// lenient: unrecognizable lines become malformed segments rather than
// errors, per the scanner's contract of never aborting on bad input.
func Parse(content string) *Message {
	normalized := strings.ReplaceAll(content, "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")

	msg := &Message{}
	for _, line := range strings.Split(normalized, "\r") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		seg := tokenizeSegment(line)
		msg.Segments = append(msg.Segments, seg)
	}
	return msg
}

func tokenizeSegment(line string) Segment {
	parts := strings.Split(line, fieldSep)
	name := parts[0]
	if !validSegmentName(name) {
		return Segment{Name: name, Raw: line, Malformed: true}
	}
	return Segment{Name: name, Fields: parts, Raw: line}
}

func validSegmentName(name string) bool {
	if len(name) != 3 {
		return false
	}
	for _, r := range name {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// fieldIndex maps an HL7 field number to a token index. MSH-1 is the field
// separator itself, so MSH numbering is shifted by one relative to the
// token positions.
func (s *Segment) fieldIndex(number int) int {
	if s.Name == "MSH" {
		return number - 1
	}
	return number
}

// Field returns the value at the given HL7 field number, or "" when the
// field is absent.
func (s *Segment) Field(number int) string {
	idx := s.fieldIndex(number)
	if idx < 1 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx]
}

// SetField overwrites the value at the given HL7 field number. Fields past
// the end of the segment are ignored; the scanner never reports locations
// that do not exist.
func (s *Segment) SetField(number int, value string) {
	idx := s.fieldIndex(number)
	if idx < 1 || idx >= len(s.Fields) {
		return
	}
	s.Fields[idx] = value
}

// Location formats a segment-field address like "PID-5".
func Location(segment string, field int) string {
	return fmt.Sprintf("%s-%d", segment, field)
}

// FieldRef addresses one field instance inside a message. Occurrence
// counts repeats of the same segment type from the top of the message.
type FieldRef struct {
	Segment    string
	Field      int
	Occurrence int
}

// Location formats the reference like "PID-5".
func (r FieldRef) Location() string {
	return Location(r.Segment, r.Field)
}

// Walk visits every populated field in wire order. Malformed segments are
// visited once with field number 0 and the raw line.
func (m *Message) Walk(visit func(ref FieldRef, value string)) {
	occurrences := make(map[string]int)
	for i := range m.Segments {
		seg := &m.Segments[i]
		occ := occurrences[seg.Name]
		occurrences[seg.Name]++
		if seg.Malformed {
			visit(FieldRef{Segment: seg.Name, Field: 0, Occurrence: occ}, seg.Raw)
			continue
		}
		for idx := 1; idx < len(seg.Fields); idx++ {
			number := idx
			if seg.Name == "MSH" {
				number = idx + 1
			}
			if seg.Fields[idx] == "" {
				continue
			}
			visit(FieldRef{Segment: seg.Name, Field: number, Occurrence: occ}, seg.Fields[idx])
		}
	}
}

// Set writes a value at the coordinates a Walk visit reported.
func (m *Message) Set(ref FieldRef, value string) {
	seen := 0
	for i := range m.Segments {
		seg := &m.Segments[i]
		if seg.Name != ref.Segment {
			continue
		}
		if seen == ref.Occurrence {
			if !seg.Malformed {
				seg.SetField(ref.Field, value)
			}
			return
		}
		seen++
	}
}

// Subject returns the primary subject identifier (PID-3, first component),
// used to key per-subject date offsets. Empty when the message carries no
// patient identification.
func (m *Message) Subject() string {
	for i := range m.Segments {
		seg := &m.Segments[i]
		if seg.Name != "PID" || seg.Malformed {
			continue
		}
		id := seg.Field(3)
		if id == "" {
			id = seg.Field(2)
		}
		if comp := strings.Split(id, "^"); len(comp) > 0 {
			return comp[0]
		}
	}
	return ""
}

// Render reassembles the message with carriage-return segment terminators.
// Malformed segments are emitted verbatim.
func (m *Message) Render() string {
	var b strings.Builder
	for i := range m.Segments {
		seg := &m.Segments[i]
		if i > 0 {
			b.WriteString("\r")
		}
		if seg.Malformed {
			b.WriteString(seg.Raw)
			continue
		}
		b.WriteString(strings.Join(seg.Fields, fieldSep))
	}
	return b.String()
}
