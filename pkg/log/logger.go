package log

// Logger receives protocol events from the stack and driver. Log is called
// from the protocol goroutines, so implementations must be safe for
// concurrent use and should not block; drop or queue under pressure.
type Logger interface {
	Log(event Event)
}

// NoopLogger swallows every event. The zero value is ready to use; it is
// what the stack falls back to when no logger is configured.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
