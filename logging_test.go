package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("writes JSON to the log file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")
		log, closer, err := newLogger(dir, false, nil)
		if err != nil {
			t.Fatalf("newLogger: %v", err)
		}
		log.Infow("hello", "groups", 3)
		log.Debugw("hidden at info level")
		_ = log.Sync()
		if err := closer.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, logFileName))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		got := string(data)
		if !strings.Contains(got, `"hello"`) || !strings.Contains(got, `"groups":3`) {
			t.Errorf("log file missing entry: %s", got)
		}
		if !strings.Contains(got, `"source":"marmot-sync"`) {
			t.Errorf("log file missing source field: %s", got)
		}
		if strings.Contains(got, "hidden at info level") {
			t.Error("debug entry written at info level")
		}
	})

	t.Run("debug mirrors to console", func(t *testing.T) {
		var console bytes.Buffer
		log, closer, err := newLogger(t.TempDir(), true, &console)
		if err != nil {
			t.Fatalf("newLogger: %v", err)
		}
		defer closer.Close()
		log.Debugw("visible at debug level")
		_ = log.Sync()

		if !strings.Contains(console.String(), "visible at debug level") {
			t.Errorf("console output = %q", console.String())
		}
	})

	t.Run("no console without debug", func(t *testing.T) {
		var console bytes.Buffer
		log, closer, err := newLogger(t.TempDir(), false, &console)
		if err != nil {
			t.Fatalf("newLogger: %v", err)
		}
		defer closer.Close()
		log.Infow("file only")
		_ = log.Sync()

		if console.Len() != 0 {
			t.Errorf("unexpected console output: %q", console.String())
		}
	})
}
