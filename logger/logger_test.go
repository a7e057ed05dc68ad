package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestJSONOutputUsesRenamedKeys(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("session").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%s)", err, buf.String())
	}
	if line["message"] != "hello" || line["component"] != "session" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestWarnAndErrorAreCounted(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("counted_component").Warn("w")
	log.WithComponent("counted_component").Error("e")
	log.WithComponent("counted_component").Error("e")

	warns, errs := ComponentCounts("counted_component")
	if warns != 1 || errs != 2 {
		t.Fatalf("unexpected counts warns=%d errors=%d", warns, errs)
	}
}
