// Package persist provides the small ambient logging surface of the module.
// It is deliberately thin: the pool's durability story does not depend on
// anything this package does. The one message the module itself logs
// through it is recovery's warning (recovery.RunWithLogger) when a chaperone
// session cannot be confirmed committed.
package persist

import (
	"log"
	"os"
)

const persistDir = "persist"

// Logger wraps the standard library logger with a startup/shutdown banner,
// so that a log file on disk makes it obvious when the process using it was
// running.
type Logger struct {
	*log.Logger
	file *os.File
}

// NewLogger returns a logger that appends to (or creates) the file at
// filename, stamping a startup line immediately.
func NewLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	logger := log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC)
	logger.Println("STARTUP: Logging has started.")
	return &Logger{logger, file}, nil
}

// Close stamps a shutdown line and closes the underlying file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: Logging has terminated.")
	return l.file.Close()
}

// Severe logs a message that indicates a real but non-fatal problem, such as
// a journal falling back to rollback because a chaperone file went missing.
func (l *Logger) Severe(v ...interface{}) {
	l.Println(append([]interface{}{"SEVERE:"}, v...)...)
}
