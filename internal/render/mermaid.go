package render

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Mermaid produces a Mermaid flowchart of a recorded span tree, one box per
// span with parent-to-child edges. The output pastes straight into anything
// that renders Mermaid (GitHub, docs sites, the live editor).
// It applies semantic styling:
// - OK spans: green
// - Error spans: red, with the status description in the label
// - Unset status: default box
func Mermaid(spans []sdktrace.ReadOnlySpan) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	collected := make(map[trace.SpanID]bool, len(spans))
	for _, s := range spans {
		collected[s.SpanContext().SpanID()] = true
	}

	var ok, failed []string
	for _, s := range spans {
		id := mermaidID(s.SpanContext().SpanID())

		label := fmt.Sprintf("%s<br/>%s", escapeMermaidLabel(s.Name()),
			s.EndTime().Sub(s.StartTime()).Round(time.Millisecond))
		if desc := s.Status().Description; desc != "" {
			label += "<br/>" + escapeMermaidLabel(desc)
		}
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", id, label))

		if parent := s.Parent(); parent.IsValid() && collected[parent.SpanID()] {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidID(parent.SpanID()), id))
		}

		switch s.Status().Code {
		case codes.Ok:
			ok = append(ok, id)
		case codes.Error:
			failed = append(failed, id)
		}
	}

	// Status styles. Force black text for high contrast regardless of theme.
	sb.WriteString("\n    classDef ok fill:#dcfce7,stroke:#16a34a,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef failed fill:#fee2e2,stroke:#dc2626,stroke-width:2px,color:#000;\n")
	for _, id := range ok {
		sb.WriteString(fmt.Sprintf("    class %s ok;\n", id))
	}
	for _, id := range failed {
		sb.WriteString(fmt.Sprintf("    class %s failed;\n", id))
	}

	return sb.String()
}

func mermaidID(id trace.SpanID) string {
	// Hex span IDs can start with a digit, which Mermaid rejects as a node ID.
	return "s" + id.String()
}

func escapeMermaidLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
