/*
Package tendril turns pipeline lifecycle events into OpenTelemetry traces and
metrics.

A host (a CI server, a build runner, a workflow engine) delivers the events
of each pipeline run to tendril as they happen. Tendril projects them onto a
span tree mirroring the run's structure, names and enriches the spans from
the step arguments, counts its own health, and remembers which trace belongs
to which run. The host stays in charge of executing the pipeline; tendril
only watches.

# Concept

The event protocol is deliberately small: a run starts and ends, block steps
(agent allocations, stages, parallel branches) open and close, and atomic
steps fire a begin/end pair. Events carry the node's stable identity, so
duplicate names, retries and concurrent branches all resolve without
guessing. Parallel branches annotate their context with the branch path;
events from different branches may interleave freely and still land under
the right parent span.

Telemetry is reconfigurable at runtime. The Observer starts in no-op mode
and the tracer and meter handles it hands out never change identity, so the
host wires instrumentation once and reconfigures exporters as often as its
own configuration changes.

# Key Types

  - [Observer]: the facade wiring everything together.
  - observe.Dispatcher: fans lifecycle events out to registered listeners.
  - spantree.Builder: the listener that grows span trees from events.
  - extract.Registry: names and enriches atomic step spans.
  - telemetry.Provider: the reconfigurable OpenTelemetry backend.
  - tracestore.Store: persists the run to trace mapping.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/tendril"
		"github.com/aretw0/tendril/pkg/flow"
		"github.com/aretw0/tendril/pkg/telemetry"
	)

	func main() {
		ctx := context.Background()

		obs := tendril.New()
		defer obs.Shutdown(ctx)

		// Point the backend at a collector. Calling Configure again later
		// with different options is fine; handles stay valid.
		err := obs.Configure(ctx, telemetry.Options{
			ServiceName: "my-ci",
			Endpoint:    "collector:4317",
			Insecure:    true,
		})
		if err != nil {
			log.Fatal(err)
		}

		// Deliver lifecycle events as the run executes.
		run := &flow.Run{ID: "build-42", Name: "my-pipeline"}
		events := obs.Events()
		events.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
		events.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)
		// ... atomic steps ...
		events.OnEndStageStep(ctx, &flow.Node{ID: "9", StartID: "5"}, "Build", run)
		events.OnEndPipeline(ctx, &flow.Node{ID: "10"}, run)
	}

Parallel branches annotate their goroutine's context so concurrent events
stay attributed:

	bctx := flow.WithBranch(ctx, "unit")
	events.OnStartParallelBranch(bctx, node, "unit", run)

The cmd/tendril binary replays scripted runs through this exact pipeline and
is the quickest way to see the output shape.
*/
package tendril
