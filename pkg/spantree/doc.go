/*
Package spantree projects the lifecycle events of pipeline runs onto a tree
of OpenTelemetry spans that mirrors the execution structure: one root span
per run, one child span per block (node allocations, stages, parallel
branches), one leaf span per atomic step.

The Builder is an observe.Listener. Open spans are tracked strictly by
execution node identity, never by display name, and parallel branches keep
independent span stacks so their interleaving cannot cross-parent siblings.
Topology violations never propagate to the host: an end event with no
matching open span is logged and dropped, and a block that ends while
children are still open force-closes them with an error status of
"incomplete" before closing itself, keeping every emitted tree well formed.
*/
package spantree
