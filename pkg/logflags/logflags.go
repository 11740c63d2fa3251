// Package logflags configures the per-layer loggers used throughout
// memedit. Every layer is silent below the error level unless it was
// named in the --log-output flag.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var scan = false
var memio = false
var regions = false
var terminal = false
var script = false

var logOut io.WriteCloser

// Logger represents a generic interface for logging inside of the
// memedit codebase.
type Logger interface {
	// WithField returns a new Logger enriched with the given field.
	WithField(key string, value interface{}) Logger
	// WithFields returns a new Logger enriched with the given fields.
	WithFields(fields Fields) Logger
	// WithError returns a new Logger enriched with the given error.
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// Fields type wraps many fields for Logger
type Fields map[string]interface{}

// LoggerFactory is used to create new Logger instances.
// SetLoggerFactory can be used to configure it.
//
// The given parameters fields and out can be both be nil.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory will ensure that every Logger created by this package, will be now created
// by the given LoggerFactory. Default behavior will be a logrus based Logger instance using textFormatterInstance.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

var textFormatterInstance = &textFormatter{}

// textFormatter prints the layer first, the way the log lines are
// usually grepped for.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteString(" ")
	b.WriteString(entry.Level.String())
	if layer, ok := entry.Data["layer"]; ok {
		b.WriteString(" ")
		b.WriteString(toString(layer))
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(toString(v))
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	b.WriteString("\n")
	return []byte(b.String()), nil
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case interface{ String() string }:
		return x.String()
	}
	return fmt.Sprint(v)
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = os.Stderr
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Scan returns true if the scan engine should log.
func Scan() bool {
	return scan
}

// ScanLogger returns a logger for the scan engine.
func ScanLogger() Logger {
	return makeFlaggableLogger(scan, Fields{"layer": "scan"})
}

// MemIO returns true if every access to the target's memory should be
// logged.
func MemIO() bool {
	return memio
}

// MemIOLogger returns a logger for reads and writes of target memory.
func MemIOLogger() Logger {
	return makeFlaggableLogger(memio, Fields{"layer": "memio"})
}

// Regions returns true if region discovery should log.
func Regions() bool {
	return regions
}

// RegionsLogger returns a logger for region discovery.
func RegionsLogger() Logger {
	return makeFlaggableLogger(regions, Fields{"layer": "regions"})
}

// Terminal returns true if the terminal should log the commands it runs.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

func Script() bool {
	return script
}

func ScriptLogger() Logger {
	return makeFlaggableLogger(script, Fields{"layer": "starlark"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the log flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "memedit-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return err
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "scan"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "scan":
			scan = true
		case "memio":
			memio = true
		case "regions":
			regions = true
		case "terminal":
			terminal = true
		case "starlark":
			script = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
