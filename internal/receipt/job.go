package receipt

import (
	"slices"
	"strings"
)

// Align is the horizontal alignment of a line
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// cutMarker stands in for the paper cut in text previews
const cutMarker = "-- ✂ --"

// Line is a single printed line
type Line struct {
	Text      string `json:"text"`
	Align     Align  `json:"align"`
	Bold      bool   `json:"bold"`
	Underline bool   `json:"underline"`
}

// PrintJob is a formatted receipt ready to be sent to the printer. A job is
// immutable once built: Lines returns a copy.
type PrintJob struct {
	lines    []Line
	cutPaper bool
}

// Lines returns the job's lines in print order
func (j PrintJob) Lines() []Line {
	return slices.Clone(j.lines)
}

// Len returns the number of lines
func (j PrintJob) Len() int {
	return len(j.lines)
}

// CutPaper reports whether the paper is cut after the last line
func (j PrintJob) CutPaper() bool {
	return j.cutPaper
}

// Text renders the job as plain text padded to width columns, for previews
// and logs.
func (j PrintJob) Text(width int) string {
	var b strings.Builder
	for _, line := range j.lines {
		pad := 0
		if n := len([]rune(line.Text)); n < width {
			switch line.Align {
			case AlignCenter:
				pad = (width - n) / 2
			case AlignRight:
				pad = width - n
			}
		}
		b.WriteString(strings.Repeat(" ", pad))
		b.WriteString(line.Text)
		b.WriteByte('\n')
	}
	if j.cutPaper {
		b.WriteString(cutMarker)
		b.WriteByte('\n')
	}
	return b.String()
}
