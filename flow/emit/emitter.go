package emit

// Emitter receives observability events from pipeline execution.
//
// Implementations should be non-blocking, thread-safe, and resilient: a
// slow or failing backend must never stall or crash a job. Emit must not
// panic; internal errors are logged or dropped, not propagated.
type Emitter interface {
	Emit(event Event)
}
