// Package qlog adorns the logxi package with the fields every queue
// component needs attached to every line: the host, and the build/worker
// identity the component was constructed with.
package qlog

import (
	"os"

	"github.com/karlmutch/logxi"
)

var hostName string

func init() {
	hostName, _ = os.Hostname()
}

// Logger wraps a logxi.Logger, injecting host/build/worker context into
// every call so log lines from a fleet of workers can be correlated
// without each call site remembering to attach identity fields itself.
type Logger struct {
	log      logxi.Logger
	buildID  string
	workerID string
}

// New creates a component logger. buildID and/or workerID may be empty
// when not yet known (e.g. before a Worker has finished construction).
func New(component, buildID, workerID string) *Logger {
	return &Logger{
		log:      logxi.New(component),
		buildID:  buildID,
		workerID: workerID,
	}
}

// WithWorker returns a copy of the logger scoped to workerID, used once a
// worker has picked (or been assigned) its identifier.
func (l *Logger) WithWorker(workerID string) *Logger {
	cp := *l
	cp.workerID = workerID
	return &cp
}

func (l *Logger) fields(args []interface{}) []interface{} {
	allArgs := make([]interface{}, 0, len(args)+6)
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs, "host", hostName)
	if l.buildID != "" {
		allArgs = append(allArgs, "build_id", l.buildID)
	}
	if l.workerID != "" {
		allArgs = append(allArgs, "worker_id", l.workerID)
	}
	return allArgs
}

func (l *Logger) Trace(msg string, args ...interface{}) {
	l.log.Trace(msg, l.fields(args)...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log.Debug(msg, l.fields(args)...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.log.Info(msg, l.fields(args)...)
}

func (l *Logger) Warn(msg string, args ...interface{}) error {
	return l.log.Warn(msg, l.fields(args)...)
}

func (l *Logger) Error(msg string, args ...interface{}) error {
	return l.log.Error(msg, l.fields(args)...)
}

func (l *Logger) SetLevel(lvl int) {
	l.log.SetLevel(lvl)
}

func (l *Logger) IsTrace() bool { return l.log.IsTrace() }
func (l *Logger) IsDebug() bool { return l.log.IsDebug() }
func (l *Logger) IsInfo() bool  { return l.log.IsInfo() }
func (l *Logger) IsWarn() bool  { return l.log.IsWarn() }
