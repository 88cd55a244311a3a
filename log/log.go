// Package log exports logging primitives that log to stderr and,
// optionally, to Google Cloud Logging.
package log

// We call this log instead of logging for two reasons:
// 1) it's shorter to type;
// 2) it mimics Go's log package and can be used as a drop-in replacement.

import (
	"context"
	"fmt"
	goLog "log"
	"os"

	gcplogging "cloud.google.com/go/logging"
)

// Logger is the interface for logging messages.
type Logger interface {
	Printf(format string, v ...interface{})
	Print(v ...interface{})
	Println(v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
}

// Level is the level of logging.
type Level int

// Logging levels, ordered from most to least verbose.
const (
	Ldebug    = Level(gcplogging.Debug)
	Linfo     = Level(gcplogging.Info)
	Lerror    = Level(gcplogging.Error)
	Ldisabled = Level(4000) // Larger than any real severity; disables the logger.
	Linvalid  = Level(-2)
)

// Pre-allocated Loggers at each logging level.
var (
	Debug = newLogger(Ldebug)
	Info  = newLogger(Linfo)
	Error = newLogger(Lerror)

	currentLevel  = Linfo
	defaultClient *gcplogging.Client
	defaultLogger Logger = goLog.New(os.Stderr, "", goLog.Ldate|goLog.Ltime|goLog.LUTC|goLog.Lmicroseconds)
)

type logger struct {
	level  gcplogging.Severity
	client *gcplogging.Client
}

var _ Logger = (*logger)(nil)

// New creates a new logger at a given level, optionally backed by a Cloud
// Logging instance in the given project writing to logName.
func New(level Level, projectID, logName string) (Logger, error) {
	var client *gcplogging.Client
	var err error
	if projectID != "" {
		client, err = newClient(projectID)
		if err != nil {
			return nil, err
		}
	}
	return &logger{level: gcplogging.Severity(level), client: client}, nil
}

func (l Level) String() string {
	switch l {
	case Ldebug:
		return "debug"
	case Linfo:
		return "info"
	case Lerror:
		return "error"
	case Ldisabled:
		return "disabled"
	}
	return "unknown"
}

func levelFromString(s string) Level {
	switch s {
	case "debug":
		return Ldebug
	case "info":
		return Linfo
	case "error":
		return Lerror
	case "disabled":
		return Ldisabled
	}
	return Linvalid
}

func (l *logger) emit(severity gcplogging.Severity, payload string) {
	if l.client != nil {
		l.client.Logger("s5").Log(gcplogging.Entry{Severity: severity, Payload: payload})
	} else if defaultClient != nil {
		defaultClient.Logger("s5").Log(gcplogging.Entry{Severity: severity, Payload: payload})
	}
}

func (l *logger) Printf(format string, v ...interface{}) {
	if l.level < gcplogging.Severity(CurrentLevel()) {
		return
	}
	defaultLogger.Printf(format, v...)
	l.emit(l.level, fmt.Sprintf(format, v...))
}

func (l *logger) Print(v ...interface{}) {
	if l.level < gcplogging.Severity(CurrentLevel()) {
		return
	}
	defaultLogger.Print(v...)
	l.emit(l.level, fmt.Sprint(v...))
}

func (l *logger) Println(v ...interface{}) {
	if l.level < gcplogging.Severity(CurrentLevel()) {
		return
	}
	defaultLogger.Println(v...)
	l.emit(l.level, fmt.Sprintln(v...))
}

func (l *logger) Fatal(v ...interface{}) {
	defaultLogger.Fatal(v...)
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	defaultLogger.Fatalf(format, v...)
}

// SetLevel sets the current logging level by name. Lower levels than the
// current one are not logged.
func SetLevel(level string) error {
	l := levelFromString(level)
	if l == Linvalid {
		return Errorf("invalid log level %q", level)
	}
	currentLevel = l
	return nil
}

// LevelName returns the current logging level's name.
func LevelName() string { return currentLevel.String() }

// CurrentLevel returns the current logging level.
func CurrentLevel() Level { return currentLevel }

// At returns whether the level will be logged currently.
func At(level Level) bool { return CurrentLevel() <= level }

func Printf(format string, v ...interface{}) { Info.Printf(format, v...) }
func Print(v ...interface{})                 { Info.Print(v...) }
func Println(v ...interface{})               { Info.Println(v...) }
func Fatal(v ...interface{})                 { Info.Fatal(v...) }
func Fatalf(format string, v ...interface{}) { Info.Fatalf(format, v...) }

// Connect wires every pre-allocated logger in this address space to a
// Cloud Logging client for the given project.
func Connect(projectID string) error {
	c, err := newClient(projectID)
	if err != nil {
		return err
	}
	defaultClient = c
	return nil
}

func newClient(projectID string) (*gcplogging.Client, error) {
	return gcplogging.NewClient(context.Background(), projectID)
}

func newLogger(level Level) Logger {
	return &logger{level: gcplogging.Severity(level)}
}

// Errorf is a tiny local helper so this package need not import the
// errors package (which itself logs bad calls), avoiding an import cycle.
func Errorf(format string, args ...interface{}) error {
	return &simpleError{msg: fmt.Sprintf(format, args...)}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
