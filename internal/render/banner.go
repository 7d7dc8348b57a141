package render

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the tendril ASCII art banner to out.
func PrintBanner(out io.Writer) {
	p := termenv.ColorProfile()
	// Green-to-blue gradient, one color per row.
	rows := []struct {
		text  string
		color string
	}{
		{" _                 _      _ _ ", "#4ade80"},
		{"| |_ ___ _ __   __| |_ __(_) |", "#34d399"},
		{"| __/ _ \\ '_ \\ / _` | '__| | |", "#2dd4bf"},
		{"| ||  __/ | | | (_| | |  | | |", "#22d3ee"},
		{" \\__\\___|_| |_|\\__,_|_|  |_|_|", "#38bdf8"},
	}

	fmt.Fprintln(out)
	for _, row := range rows {
		fmt.Fprintln(out, termenv.String(row.text).Foreground(p.Color(row.color)))
	}
	fmt.Fprintln(out)
}
