package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderSystemdUnit(t *testing.T) {
	var b strings.Builder
	err := render(&b, "systemd unit", systemdUnitTemplate, unitData{
		Label:          appName,
		ExecutablePath: "/opt/card-bridge/card-bridge",
	})
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}

	out := b.String()
	if !strings.Contains(out, "ExecStart=/opt/card-bridge/card-bridge -no-tray") {
		t.Errorf("unit missing ExecStart:\n%s", out)
	}
	if !strings.Contains(out, "After=pcscd.service") {
		t.Errorf("unit should start after pcscd:\n%s", out)
	}
}

func TestRenderLaunchdPlist(t *testing.T) {
	var b strings.Builder
	err := render(&b, "launch agent", launchdPlistTemplate, unitData{
		Label:          "com.example.card-bridge",
		ExecutablePath: "/Applications/Card Bridge.app/Contents/MacOS/card-bridge",
		LogDir:         "/Users/test/Library/Logs/Card-Bridge",
	})
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}

	out := b.String()
	for _, want := range []string{
		"<string>com.example.card-bridge</string>",
		"<string>/Applications/Card Bridge.app/Contents/MacOS/card-bridge</string>",
		"/Users/test/Library/Logs/Card-Bridge/card-bridge.log",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plist missing %q", want)
		}
	}
}

func TestWriteUnitCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "card-bridge.service")

	if err := writeUnit(path, "systemd unit", systemdUnitTemplate, unitData{ExecutablePath: "/bin/card-bridge"}); err != nil {
		t.Fatalf("writeUnit() error = %v", err)
	}
	if !exists(path) {
		t.Fatal("unit file not written")
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "/bin/card-bridge") {
		t.Error("unit file content wrong")
	}
}

func TestRenderBadTemplate(t *testing.T) {
	var b strings.Builder
	if err := render(&b, "broken", "{{.Nope", unitData{}); err == nil {
		t.Error("expected parse error")
	}
}
