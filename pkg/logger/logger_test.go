package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postpulse/pkg/config"
)

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zlog := zerolog.New(buf).With().Timestamp().Logger()
	return &zerologLogger{logger: &zlog, fields: make(map[string]interface{})}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"invalid log level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(dir, "logs", "crawl.log")}, false},
		{"json file output", &config.LoggingConfig{Level: "info", File: filepath.Join(dir, "json.log"), JSON: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Fatal("New() returned nil logger")
			}
			if tt.cfg.File != "" {
				if _, err := os.Stat(tt.cfg.File); err != nil {
					t.Errorf("log file not created: %v", err)
				}
			}
		})
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&config.LoggingConfig{Level: "info", JSON: true}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	l.WithField("account", "nasa").Info("crawl started")

	out := buf.String()
	for _, want := range []string{`"app":"postpulse"`, `"account":"nasa"`, `"message":"crawl started"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestNewWithWriterConsoleNoColor(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&config.LoggingConfig{Level: "info", NoColor: true}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	l.Warn("backing off")

	out := buf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "| backing off") {
		t.Errorf("unexpected console output %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("colour codes written with NoColor: %q", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"fatal", zerolog.FatalLevel, false},
		{"panic", zerolog.PanicLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestFieldChainingDoesNotLeak(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	base := newBufferLogger(&buf)

	child := base.WithField("account", "alice").WithFields(map[string]interface{}{
		"page":  2,
		"posts": int64(200),
	})
	child.Info("page fetched")

	out := buf.String()
	for _, want := range []string{`"account":"alice"`, `"page":2`, `"posts":200`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}

	buf.Reset()
	base.Info("base only")
	if strings.Contains(buf.String(), "alice") {
		t.Error("child fields leaked into parent logger")
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	if l.WithError(nil) != Logger(l) {
		t.Error("WithError(nil) should return the same logger")
	}

	l.WithError(errors.New("socket closed")).Error("request failed")
	if !strings.Contains(buf.String(), "socket closed") {
		t.Errorf("error not found in %q", buf.String())
	}
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.InfoWithFields("all types", map[string]interface{}{
		"string":   "test",
		"int":      123,
		"int64":    int64(456),
		"float":    3.5,
		"bool":     true,
		"time":     time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"ints":     []int{1, 2},
		"err":      errors.New("boom"),
		"custom":   struct{ Name string }{Name: "x"},
	})

	out := buf.String()
	for _, want := range []string{`"float":3.5`, `"strings":["a","b"]`, `"err":"boom"`, `"custom":{"Name":"x"}`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	if err := Initialize(&config.LoggingConfig{Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil")
	}

	tl := NewTestLogger()
	SetLogger(tl)
	defer SetLogger(nil)

	Info("info message")
	WithField("account", "bob").Warn("with field")
	WithError(errors.New("x")).Error("with error")

	if !tl.HasMessage("info message") || !tl.HasError() {
		t.Errorf("global helpers did not reach the installed logger: %s", tl.String())
	}
}

func TestDomainHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogRateLimit(tl, "list_connections", "alice", 4*time.Second)
	LogCrawlStep(tl, "alice", 120, 6, 50, 200)
	LogFetchProgress(tl, "bob", 3, 600)
	LogComponentStart(tl, "collector", map[string]interface{}{"workers": 4})
	LogComponentStop(tl, "collector", "done")
	LogRequest(tl, "GET", "/1.1/friends/list.json", 503, time.Second)

	warns := tl.GetMessagesByLevel("WARN")
	if len(warns) != 1 || warns[0].Fields["account"] != "alice" {
		t.Errorf("unexpected warnings: %+v", warns)
	}

	var step LogMessage
	for _, m := range tl.GetMessages() {
		if m.Message == "Crawl step completed" {
			step = m
		}
	}
	if step.Fields["percentage"] != "25.0%" {
		t.Errorf("unexpected crawl step fields: %+v", step.Fields)
	}
	if len(tl.GetMessagesByLevel("ERROR")) != 1 {
		t.Error("server error request should log at error level")
	}
}

func TestTestLoggerChildrenShareCapture(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("worker", 1).WithError(errors.New("boom"))
	child.WarnWithFields("job failed", map[string]interface{}{"account": "x"})

	msgs := tl.GetMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Fields["worker"] != 1 || msgs[0].Fields["account"] != "x" || msgs[0].Error == nil {
		t.Errorf("unexpected message %+v", msgs[0])
	}

	tl.Clear()
	if len(tl.GetMessages()) != 0 || tl.String() != "" {
		t.Error("Clear did not reset capture")
	}
}

func TestNopLogger(t *testing.T) {
	l := OrNop(nil)
	l.WithField("a", 1).Info("ignored")
	if l.GetZerolog() == nil {
		t.Error("nop logger must expose a usable zerolog instance")
	}
}
