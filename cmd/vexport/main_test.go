package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"vexport/internal/presets"
	"vexport/internal/services"
	"vexport/internal/testsupport"
)

func writeTestConfig(t *testing.T, base string, extra string) string {
	t.Helper()
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
staging_dir = %q
report_dir = %q
log_dir = %q

[export]
min_free_mib = 0
%s
`, filepath.Join(base, "staging"), filepath.Join(base, "reports"), filepath.Join(base, "logs"), extra)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPresetsCommandListsCatalog(t *testing.T) {
	base := t.TempDir()
	cfgPath := writeTestConfig(t, base, `presets = ["Passthrough", "1280x720"]`)

	out, err := runCLI(t, "--config", cfgPath, "presets")
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	for _, want := range []string{"Passthrough", "1280x720", "AV1", "Drapto"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", base)
	target := filepath.Join(base, "conf", "vexport.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("init output missing path:\n%s", out)
	}
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}

	out, err = runCLI(t, "--config", target, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") || !strings.Contains(out, "Passthrough") {
		t.Fatalf("unexpected validate output:\n%s", out)
	}
}

func TestStagingListAndClean(t *testing.T) {
	base := t.TempDir()
	cfgPath := writeTestConfig(t, base, "")
	alloc := filepath.Join(base, "staging", uuid.NewString())
	testsupport.WriteFile(t, filepath.Join(alloc, "clip.mp4"), 2048)

	out, err := runCLI(t, "--config", cfgPath, "staging", "list")
	if err != nil {
		t.Fatalf("staging list: %v", err)
	}
	if !strings.Contains(out, "Total: 1 directories") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "staging", "clean")
	if err != nil {
		t.Fatalf("staging clean: %v", err)
	}
	if !strings.Contains(out, "No stale directories") {
		t.Fatalf("fresh allocation should survive default clean:\n%s", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "staging", "clean", "--all")
	if err != nil {
		t.Fatalf("staging clean --all: %v", err)
	}
	if !strings.Contains(out, "Removed 1 staging directories") {
		t.Fatalf("unexpected clean output:\n%s", out)
	}
	if _, err := os.Stat(alloc); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("allocation should be gone, stat err %v", err)
	}
}

func TestExportRejectsMissingSource(t *testing.T) {
	base := t.TempDir()
	cfgPath := writeTestConfig(t, base, "")

	_, err := runCLI(t, "--config", cfgPath, "export", "--skip-checks", filepath.Join(base, "missing.mp4"))
	if !errors.Is(err, services.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}

func TestExportRejectsUnknownPreset(t *testing.T) {
	base := t.TempDir()
	cfgPath := writeTestConfig(t, base, "")
	src := filepath.Join(base, "clip.mp4")
	testsupport.WriteFile(t, src, 16)

	_, err := runCLI(t, "--config", cfgPath, "export", "--skip-checks", "--preset", "Ultra", src)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolvePresetsRequiresDraptoForAV1(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := resolvePresets(cfg, []string{"AV1"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	cfg = testsupport.NewConfig(t, testsupport.WithDrapto())
	ids, err := resolvePresets(cfg, []string{"av1", "passthrough"})
	if err != nil {
		t.Fatalf("resolvePresets: %v", err)
	}
	if len(ids) != 2 || ids[0] != presets.AV1 || ids[1] != presets.Passthrough {
		t.Fatalf("unexpected ids %v", ids)
	}

	ids, err = resolvePresets(cfg, nil)
	if err != nil || len(ids) != len(presets.Default()) {
		t.Fatalf("default presets %v, err %v", ids, err)
	}
}

func TestLockStagingIsExclusive(t *testing.T) {
	dir := t.TempDir()
	release, err := lockStaging(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := lockStaging(dir); err == nil {
		t.Fatal("second lock should fail while the first is held")
	}
	release()
	again, err := lockStaging(dir)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestProgressPrinterBuckets(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, 25)
	observe := p.observer(presets.MediumQuality)
	for _, v := range []float64{0, 0.1, 0.3, 0.31, 0.6, 1} {
		observe(v)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "MediumQuality") || !strings.HasSuffix(lines[3], "100%") {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "mkv", "mp4"); got != "mkv" {
		t.Fatalf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Fatalf("firstNonEmpty() = %q", got)
	}
}
