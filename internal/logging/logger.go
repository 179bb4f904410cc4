package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger
	errMu sync.Mutex
	errW  io.WriteCloser

	debugOn bool
}

func New(errorsPath string) (*Logger, error) {
	// Clear the log file on startup
	if err := os.Truncate(errorsPath, 0); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	// Write warnings and errors to both stdout and file
	errWriter := io.MultiWriter(os.Stdout, f)
	l := &Logger{
		info:  log.New(os.Stdout, "INFO ", log.LstdFlags|log.Lmicroseconds),
		warn:  log.New(errWriter, "WARN ", log.LstdFlags|log.Lmicroseconds),
		err:   log.New(errWriter, "ERROR ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		debug: log.New(os.Stdout, "DEBUG ", log.LstdFlags|log.Lmicroseconds),
		errW:  f,
	}
	return l, nil
}

// NewWriter returns a logger that sends every level to w and owns no file.
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		info:  log.New(w, "INFO ", log.LstdFlags|log.Lmicroseconds),
		warn:  log.New(w, "WARN ", log.LstdFlags|log.Lmicroseconds),
		err:   log.New(w, "ERROR ", log.LstdFlags|log.Lmicroseconds),
		debug: log.New(w, "DEBUG ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Discard is a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard)
}

func (l *Logger) SetDebug(on bool) {
	l.debugOn = on
}

func (l *Logger) Close() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.errW != nil {
		return l.errW.Close()
	}
	return nil
}

func (l *Logger) Infof(format string, args ...any) {
	l.info.Printf(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.debugOn {
		return
	}
	l.debug.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.warn.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.err.Printf(format, args...)
}

func (l *Logger) Error(err error) {
	if err == nil {
		return
	}
	l.Errorf("%v", err)
}
