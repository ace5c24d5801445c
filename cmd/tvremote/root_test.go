package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the root command with a config pointing at a temp database.
func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tvremote.yaml")
	body := "logging:\n  level: error\ndatabase:\n  path: " + filepath.Join(dir, "data", "tv.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, writeConfig(t), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "tvremote ") {
		t.Errorf("output = %q", out)
	}
}

func TestDevicesLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "no saved TVs") {
		t.Errorf("empty list output = %q", out)
	}

	out, err = runCLI(t, cfg, "devices", "add", "Den", "192.168.1.70", "--brand", "lg")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "saved Den (webos)") {
		t.Errorf("add output = %q", out)
	}

	_, err = runCLI(t, cfg, "devices", "add", "Attic", "192.168.1.71", "--brand", "roku")
	if err == nil || !strings.Contains(err.Error(), "free tier") {
		t.Errorf("second add err = %v, want the free-tier limit", err)
	}

	out, err = runCLI(t, cfg, "devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "192.168.1.70") || !strings.Contains(out, "1 of 1 saved") {
		t.Errorf("list output = %q", out)
	}
}

func TestDevicesAdd_InvalidAddress(t *testing.T) {
	if _, err := runCLI(t, writeConfig(t), "devices", "add", "TV", "not-an-ip"); err == nil {
		t.Error("expected an error for an invalid address")
	}
}

func TestRemote_NoSavedDevice(t *testing.T) {
	if _, err := runCLI(t, writeConfig(t), "remote"); err == nil {
		t.Error("expected an error with nothing saved")
	}
}
