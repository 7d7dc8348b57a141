// Package flow holds the host-facing model of a pipeline execution: runs,
// execution nodes, and the context annotation that ties events to parallel
// branches.
package flow

// Run identifies one execution of a pipeline on the host engine.
type Run struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Node is the host engine's handle for one node of the execution graph.
//
// ID is the only stable identity. Display names repeat freely within a run
// (every shell step shares one) and must never be used as a lookup key.
// Args carries the step's declared arguments, already filtered by the host;
// tendril only reads them, never mutates.
type Node struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`

	// StartID is set on block end nodes only: the ID of the start node that
	// opened the block this node closes.
	StartID string `json:"start_id,omitempty"`
}

// CloseID returns the identity of the span this node closes: StartID for
// block end nodes, the node's own ID otherwise.
func (n *Node) CloseID() string {
	if n.StartID != "" {
		return n.StartID
	}
	return n.ID
}

// ArgString returns the named argument when it is present and a string, and
// the empty string otherwise.
func (n *Node) ArgString(key string) string {
	if n == nil || n.Args == nil {
		return ""
	}
	v, _ := n.Args[key].(string)
	return v
}
