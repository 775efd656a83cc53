package mavftp

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger interface for protocol logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// FileLogger writes logs to a file
type FileLogger struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileLogger creates a logger that writes to a file
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: file}, nil
}

func (l *FileLogger) log(level, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s: %s\n", timestamp, level, msg)
}

func (l *FileLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *FileLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *FileLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *FileLogger) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}

// NoopLogger does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// FormatOperationLog formats an operation for logging with optional payload
// truncation.
func FormatOperationLog(direction string, op *Operation) string {
	msg := fmt.Sprintf("%s %s (seq=%d, session=%d, req=%s, offset=%d, size=%d",
		direction, op.Opcode, op.Seq, op.Session, op.ReqOpcode, op.Offset, op.Size)
	if op.BurstComplete {
		msg += ", burst_complete"
	}
	msg += ")"

	if len(op.Payload) > 0 {
		displayLen := len(op.Payload)
		truncated := false
		if displayLen > 64 {
			displayLen = 64
			truncated = true
		}
		if truncated {
			msg += fmt.Sprintf(", payload=%q...[truncated]", op.Payload[:displayLen])
		} else {
			msg += fmt.Sprintf(", payload=%q", op.Payload[:displayLen])
		}
	}

	return msg
}
