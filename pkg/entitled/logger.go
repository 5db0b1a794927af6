package entitled

// Field is one structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the logging seam used across the engine. Components take a
// Logger in their Config and never log through a global.
type Logger interface {
	// Debug logs high-volume diagnostic detail, such as skipped duplicates.
	Debug(msg string, fields ...Field)

	// Info logs normal state changes: events applied, identities linked.
	Info(msg string, fields ...Field)

	// Warn logs conditions that need attention but not intervention.
	Warn(msg string, fields ...Field)

	// Error logs failures that require operator attention.
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything. It is the default when no Logger is
// configured.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
