package render

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/muesli/termenv"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tree writes an indented span tree with per-span status and duration.
type Tree struct {
	out     io.Writer
	profile termenv.Profile
}

// NewTree creates a Tree writing to out. Colors degrade to plain text when
// the terminal does not support them.
func NewTree(out io.Writer) *Tree {
	return &Tree{
		out:     out,
		profile: termenv.ColorProfile(),
	}
}

// Render prints one tree per root span. A span whose parent was not
// collected is treated as a root, so partial captures still print.
func (t *Tree) Render(spans []sdktrace.ReadOnlySpan) error {
	collected := make(map[trace.SpanID]bool, len(spans))
	for _, s := range spans {
		collected[s.SpanContext().SpanID()] = true
	}

	children := make(map[trace.SpanID][]sdktrace.ReadOnlySpan)
	var roots []sdktrace.ReadOnlySpan
	for _, s := range spans {
		parent := s.Parent().SpanID()
		if s.Parent().IsValid() && collected[parent] {
			children[parent] = append(children[parent], s)
		} else {
			roots = append(roots, s)
		}
	}

	sortByStart(roots)
	for _, kids := range children {
		sortByStart(kids)
	}

	for _, root := range roots {
		if err := t.writeSpan(root, "", "", children); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) writeSpan(s sdktrace.ReadOnlySpan, lead, childLead string, children map[trace.SpanID][]sdktrace.ReadOnlySpan) error {
	if _, err := fmt.Fprintln(t.out, lead+t.line(s)); err != nil {
		return err
	}

	kids := children[s.SpanContext().SpanID()]
	for i, kid := range kids {
		last := i == len(kids)-1
		nextLead, nextChildLead := childLead+"├─ ", childLead+"│  "
		if last {
			nextLead, nextChildLead = childLead+"└─ ", childLead+"   "
		}
		if err := t.writeSpan(kid, nextLead, nextChildLead, children); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) line(s sdktrace.ReadOnlySpan) string {
	glyph := t.glyph(s.Status().Code)
	duration := termenv.String(s.EndTime().Sub(s.StartTime()).Round(time.Millisecond).String()).
		Foreground(t.profile.Color("#9ca3af")).
		String()

	line := fmt.Sprintf("%s %s  %s", glyph, s.Name(), duration)
	if desc := s.Status().Description; desc != "" {
		line += "  " + termenv.String(desc).Foreground(t.profile.Color("#f87171")).String()
	}
	return line
}

func (t *Tree) glyph(code codes.Code) string {
	switch code {
	case codes.Ok:
		return termenv.String("✔").Foreground(t.profile.Color("#4ade80")).String()
	case codes.Error:
		return termenv.String("✘").Foreground(t.profile.Color("#f87171")).String()
	default:
		return termenv.String("•").Foreground(t.profile.Color("#9ca3af")).String()
	}
}

func sortByStart(spans []sdktrace.ReadOnlySpan) {
	slices.SortStableFunc(spans, func(a, b sdktrace.ReadOnlySpan) int {
		return a.StartTime().Compare(b.StartTime())
	})
}
