/*
Package observe defines the lifecycle event contract between a host pipeline
engine and tendril's observers, and the dispatcher that fans events out.

The host emits one call per lifecycle transition of a run: pipeline start and
end, block-scoped steps (node allocations, stages, parallel branches) and
atomic steps. Observers implement Listener, usually by embedding BaseListener
and overriding the few events they care about.

# Key Types

  - Listener: the full event set a run produces, in the order the host emits it.
  - BaseListener: a no-op Listener for embedding.
  - Dispatcher: an ordered Listener registry that is itself a Listener; a
    failing observer is logged and skipped, never allowed to disturb the run
    or the observers after it.
*/
package observe
