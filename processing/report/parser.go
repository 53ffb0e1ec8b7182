// Package report pulls structure out of the free-text plant health report
// returned by the vision model. Model output is untrusted: every function
// here degrades to a fallback instead of failing the pipeline.
package report

import (
	"errors"
	"fmt"
	"strings"
)

// Unknown is returned when the disease name cannot be located.
const Unknown = "unknown"

var ErrMalformedReport = errors.New("report: malformed report")

// Section headings, in the order the prompt asks for them.
const (
	HeadingDisease    = "Disease Identification"
	HeadingSymptoms   = "Key Symptoms"
	HeadingTreatment  = "Immediate Treatment Recommendations"
	HeadingPrevention = "Prevention Methods"
	HeadingNotes      = "Additional Notes"
)

var headings = [...]string{
	HeadingDisease,
	HeadingSymptoms,
	HeadingTreatment,
	HeadingPrevention,
	HeadingNotes,
}

// ExtractDiseaseName returns the first non-blank line between the
// "Disease Identification" heading and the line that opens "Key Symptoms".
// Text following the heading on its own line counts. Returns Unknown when
// either heading is missing or nothing sits between them.
func ExtractDiseaseName(text string) string {
	start := indexFold(text, HeadingDisease)
	if start < 0 {
		return Unknown
	}
	bodyStart := start + len(HeadingDisease)

	rel := indexFold(text[bodyStart:], HeadingSymptoms)
	if rel < 0 {
		return Unknown
	}
	symptoms := bodyStart + rel
	bodyEnd := lineStart(text, bodyStart, symptoms)

	lines := bodyLines(text[bodyStart:bodyEnd])
	if len(lines) == 0 {
		return Unknown
	}

	name := lines[0]
	if !strings.Contains(text[bodyStart:symptoms], "\n") {
		// Both headings share a line; drop the "2." that numbers the next one.
		name = strings.TrimSpace(strings.TrimRight(name, "0123456789. \t"))
	}
	if name == "" {
		return Unknown
	}

	return name
}

type Sections struct {
	Disease    string
	Symptoms   []string
	Treatment  []string
	Prevention []string
	Notes      []string
}

// Parse splits a report into its five sections. Headings must appear in
// order; a missing heading yields ErrMalformedReport together with
// whatever sections were found.
func Parse(text string) (Sections, error) {
	type found struct {
		heading   int
		start     int
		bodyStart int
	}

	var (
		spans   []found
		missing []string
		offset  int
	)

	for i, h := range headings {
		rel := indexFold(text[offset:], h)
		if rel < 0 {
			missing = append(missing, h)
			continue
		}

		start := offset + rel
		spans = append(spans, found{heading: i, start: start, bodyStart: start + len(h)})
		offset = start + len(h)
	}

	var out Sections
	out.Disease = ExtractDiseaseName(text)

	for i, sp := range spans {
		end := len(text)
		if i+1 < len(spans) {
			end = lineStart(text, sp.bodyStart, spans[i+1].start)
		}

		lines := bodyLines(text[sp.bodyStart:end])

		switch headings[sp.heading] {
		case HeadingSymptoms:
			out.Symptoms = lines
		case HeadingTreatment:
			out.Treatment = lines
		case HeadingPrevention:
			out.Prevention = lines
		case HeadingNotes:
			out.Notes = lines
		}
	}

	if len(missing) > 0 {
		return out, fmt.Errorf("%w: missing %s", ErrMalformedReport, strings.Join(missing, ", "))
	}

	return out, nil
}

// lineStart moves pos back to the start of its line, but never before floor.
func lineStart(text string, floor, pos int) int {
	nl := strings.LastIndexByte(text[floor:pos], '\n')
	if nl < 0 {
		return pos
	}
	return floor + nl + 1
}

// bodyLines returns the cleaned, non-blank lines of a section body. The
// first line is whatever followed the heading on the same line.
func bodyLines(body string) []string {
	var out []string

	for i, raw := range strings.Split(body, "\n") {
		line := raw
		if i == 0 {
			line = headingRemainder(line)
		}

		line = cleanLine(line)
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}

// headingRemainder strips separators and an echoed "(only name)" style
// instruction from the text that shares a line with a heading.
func headingRemainder(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ":-–—*# \t")

	if strings.HasPrefix(s, "(") {
		if end := strings.IndexByte(s, ')'); end >= 0 {
			s = s[end+1:]
		}
	}

	return strings.TrimLeft(s, ":-–—*# \t")
}

func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*•#> \t")
	s = strings.TrimRight(s, "* \t")
	return strings.TrimSpace(s)
}

// indexFold is a case-insensitive strings.Index for ASCII needles. Byte
// offsets stay valid for the input string.
func indexFold(s, sub string) int {
	n := len(sub)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], sub) {
			return i
		}
	}
	return -1
}
