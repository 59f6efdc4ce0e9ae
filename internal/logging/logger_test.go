package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitialize_NoConfigIsSilentNoop(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Pipeline("should go nowhere")

	if _, err := os.Stat(filepath.Join(ws, ".datanerd", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory must not be created without debug mode")
	}
}

func TestInitialize_DebugModeWritesCategoryFiles(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".datanerd")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := "logging:\n  debug_mode: true\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Pipeline("stage transition: %s", "plan")
	PipelineDebug("details")

	entries, err := os.ReadDir(filepath.Join(cfgDir, "logs"))
	if err != nil {
		t.Fatalf("logs directory missing: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected at least one category log file")
	}
}

func TestInitialize_RequiresWorkspace(t *testing.T) {
	if err := Initialize(""); err == nil {
		t.Error("expected error for empty workspace")
	}
}

func TestCategoryToggle(t *testing.T) {
	ws := t.TempDir()
	cfgDir := filepath.Join(ws, ".datanerd")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := "logging:\n  debug_mode: true\n  categories:\n    store: false\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be disabled")
	}
	if !IsCategoryEnabled(CategoryPipeline) {
		t.Error("unlisted categories default to enabled")
	}
}
