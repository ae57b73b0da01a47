package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Jobs = 3

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	if loaded.Jobs != 3 {
		t.Errorf("Expected jobs 3, got %d", loaded.Jobs)
	}

	// Durations are written human-readable
	if !strings.Contains(string(data), `"initial_interval": "100ms"`) {
		t.Errorf("expected readable durations, got:\n%s", data)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created in nested directory: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	original := DefaultConfig()
	original.Jobs = -1
	original.KeepGoing = true
	original.HistoryPath = filepath.Join(tmpDir, "history.db")
	original.Breaker.Enabled = true
	original.Breaker.Cooldown = Duration(5 * time.Second)

	if err := Save(original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if *loaded != *original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, original)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	first := DefaultConfig()
	first.Jobs = 2
	if err := Save(first, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := DefaultConfig()
	second.Jobs = 7
	if err := Save(second, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Jobs != 7 {
		t.Errorf("Expected jobs 7 after overwrite, got %d", loaded.Jobs)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "config.json" {
		t.Errorf("expected only config.json, got %v", entries)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("expected mode 0644, got %v", info.Mode().Perm())
	}
}
