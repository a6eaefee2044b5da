package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"goalflow/internal/config"
	"goalflow/internal/logging"
)

func TestJSONLoggerCarriesService(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWriter(&buf, config.Logging{Level: "debug", Service: "gf-test"})
	log.Debug("hello", "attempt", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["service"] != "gf-test" || rec["msg"] != "hello" || rec["attempt"] != 2.0 {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWriter(&buf, config.Logging{Level: "warn", Format: "text"})
	log.Info("dropped")
	log.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRequestID(t *testing.T) {
	ctx := logging.WithRequestID(context.Background(), "req-1")
	if logging.RequestID(ctx) != "req-1" {
		t.Fatalf("request id not stored")
	}
	if logging.RequestID(context.Background()) != "" {
		t.Fatalf("expected empty request id")
	}
}
