// Package prompt builds the instruction sent to the model for one generation.
//
// Composition is deterministic: the same request always yields the same
// prompt text, which keeps generations reproducible and easy to test.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultSampleRows is the number of leading rows embedded in the prompt.
const DefaultSampleRows = 5

// Table is the view of a dataset the composer needs.
type Table interface {
	ColumnNames() []string
	Head(n int) [][]any
}

// Request holds everything a prompt is composed from. It is immutable once
// handed to Compose.
type Request struct {
	Description        string
	Columns            []string
	Sample             [][]any
	IncludeExploration bool
}

// NewRequest snapshots the schema and the first sampleRows rows of t.
func NewRequest(t Table, description string, includeExploration bool, sampleRows int) Request {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	return Request{
		Description:        description,
		Columns:            t.ColumnNames(),
		Sample:             t.Head(sampleRows),
		IncludeExploration: includeExploration,
	}
}

// Profile describes the framework a generated app must target.
type Profile struct {
	Name        string
	Framework   string
	Language    string
	Constraints []string
	Exploration string
}

// Composer renders requests into prompts for a fixed profile.
type Composer struct {
	profile Profile
}

// NewComposer creates a composer for the given profile.
func NewComposer(p Profile) *Composer {
	return &Composer{profile: p}
}

// Profile returns the composer's target profile.
func (c *Composer) Profile() Profile {
	return c.profile
}

// Compose returns the prompt for req. Sections appear in a fixed order:
// task framing, constraints, description, columns, sample rows, the
// exploration clause (only when requested) and the closing instruction.
func (c *Composer) Compose(req Request) string {
	p := c.profile
	var b strings.Builder

	fmt.Fprintf(&b, "Create a fully functional and executable %s app using the %s framework in %s.\n",
		p.Framework, p.Framework, p.Language)
	for _, line := range p.Constraints {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	fmt.Fprintf(&b, "Data columns: %s\n", strings.Join(req.Columns, ", "))
	fmt.Fprintf(&b, "First few rows of data: %s\n", Records(req.Columns, req.Sample))
	if req.IncludeExploration && p.Exploration != "" {
		b.WriteString(p.Exploration)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Provide only the %s code necessary to run the %s app.\n", p.Language, p.Framework)

	return b.String()
}

// Records encodes rows as a JSON array of objects whose keys follow column
// order. Values that cannot be encoded are written as their string form.
func Records(columns []string, rows [][]any) string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeJSON(&buf, col)
			buf.WriteByte(':')
			var v any
			if j < len(row) {
				v = row[j]
			}
			writeJSON(&buf, v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String()
}

func writeJSON(buf *bytes.Buffer, v any) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		tmp.Reset()
		_ = enc.Encode(fmt.Sprint(v))
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
}
