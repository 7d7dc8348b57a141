package tendril

import _ "embed"

// Version is the tendril release, embedded from the VERSION file at the
// repository root. It carries the file's trailing newline; trim before
// printing.
//
//go:embed VERSION
var Version string
