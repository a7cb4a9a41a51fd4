package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigCheckDefaultsPass(t *testing.T) {
	path := ""
	cmd := configCheckCmd(&path)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config check with defaults: %v", err)
	}
	if !strings.Contains(out.String(), "configuration ok") {
		t.Errorf("expected success marker in output, got:\n%s", out.String())
	}
}

func TestConfigCheckRejectsInvertedHeartbeatTimers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	cfg := "timers:\n  heartbeatInterval: 10s\n  heartbeatTimeout: 1s\n"
	if err := os.WriteFile(file, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	path := file
	cmd := configCheckCmd(&path)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected validation error for heartbeatTimeout <= heartbeatInterval")
	}
}

func TestConfigCheckMissingFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cmd := configCheckCmd(&path)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for missing config file")
	}
}
