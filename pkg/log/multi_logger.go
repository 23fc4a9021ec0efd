package log

// MultiLogger fans each event out to a fixed set of loggers, in order.
// The usual pairing is a SlogAdapter for the console next to a FileLogger
// capture.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger builds a fan-out over the given loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
