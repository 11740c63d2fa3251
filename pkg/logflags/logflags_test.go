package logflags

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	if loggerFactory != nil {
		t.Fatalf("expected loggerFactory to be nil; but was <%v>", loggerFactory)
	}
	defer func() {
		loggerFactory = nil
	}()
	if logOut != nil {
		t.Fatalf("expected logOut to be nil; but was <%v>", logOut)
	}
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		if level != logrus.TraceLevel {
			t.Fatalf("expected level to be <%v>; but was <%v>", logrus.TraceLevel, level)
		}
		if len(fields) != 1 || fields["foo"] != "bar" {
			t.Fatalf("expected fields to be {'foo':'bar'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"foo": "bar"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeFlaggableLogger_withFlagFalse(t *testing.T) {
	actual := makeFlaggableLogger(false, Fields{"foo": "bar"})
	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrus.Entry)(nil)), reflect.TypeOf(actualEntry))
	}
	if actualEntry.Entry.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected actualEntry.Entry.Logger.Level to be <%v>; but was <%v>", logrus.ErrorLevel, actualEntry.Logger.Level)
	}
	if len(actualEntry.Entry.Data) != 1 || actualEntry.Data["foo"] != "bar" {
		t.Fatalf("expected actualEntry.Entry.Data to be {'foo':'bar'}; but was <%v>", actualEntry.Data)
	}
}

func TestMakeFlaggableLogger_withFlagTrue(t *testing.T) {
	actual := makeFlaggableLogger(true, Fields{"foo": "bar"})
	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrus.Entry)(nil)), reflect.TypeOf(actualEntry))
	}
	if actualEntry.Entry.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected actualEntry.Entry.Logger.Level to be <%v>; but was <%v>", logrus.DebugLevel, actualEntry.Logger.Level)
	}
}

func TestMakeLogger_usingDefaultBehavior(t *testing.T) {
	out := &bufferWriter{}
	logOut = out
	defer func() {
		logOut = nil
	}()

	actual := makeLogger(logrus.TraceLevel, Fields{"layer": "scan", "foo": "bar"})

	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrus.Entry)(nil)), reflect.TypeOf(actualEntry))
	}
	if actualEntry.Entry.Logger.Out != logOut {
		t.Fatalf("expected actualEntry.Entry.Logger.Out to be <%v>; but was <%v>", logOut, actualEntry.Logger.Out)
	}
	if actualEntry.Entry.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected actualEntry.Entry.Logger.Formatter to be <%v>; but was <%v>", textFormatterInstance, actualEntry.Logger.Formatter)
	}

	actual.Infof("found %d matches", 3)
	line := out.String()
	if !strings.Contains(line, "info scan foo=bar found 3 matches") {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestSetupLogOutputWithoutLog(t *testing.T) {
	if err := Setup(false, "scan", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}
}

func TestSetupLayers(t *testing.T) {
	defer func() {
		scan, memio, regions, terminal, script = false, false, false, false, false
	}()
	if err := Setup(true, "memio, regions", ""); err != nil {
		t.Fatal(err)
	}
	if scan || !memio || !regions || terminal || script {
		t.Fatalf("wrong layers enabled: scan=%v memio=%v regions=%v terminal=%v starlark=%v", scan, memio, regions, terminal, script)
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
