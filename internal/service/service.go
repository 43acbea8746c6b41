// Package service installs card-bridge as a per-user background service
// so the bridge is running whenever the front end is opened.
package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"
)

const appName = "card-bridge"

var (
	ErrAlreadyInstalled = errors.New("auto-start is already installed")
	ErrNotInstalled     = errors.New("auto-start is not installed")
	ErrUnsupported      = errors.New("auto-start is not supported on this platform")
)

// Service manages the platform auto-start entry.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	// Status is a human readable state, e.g. "running" or "not installed".
	Status() (string, error)
}

// unitData is what the unit templates are rendered with.
type unitData struct {
	Label          string
	ExecutablePath string
	LogDir         string
}

const systemdUnitTemplate = `[Unit]
Description=Card Bridge - local SLE4442 card writer for the browser
After=pcscd.service

[Service]
Type=simple
ExecStart={{.ExecutablePath}} -no-tray
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>{{.LogDir}}/card-bridge.log</string>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/card-bridge.err</string>
</dict>
</plist>
`

func render(w io.Writer, name, text string, data unitData) error {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	return nil
}

// writeUnit renders a template into path, creating parent directories.
func writeUnit(path, name, text string, data unitData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return render(f, name, text, data)
}

func executablePath() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return path, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
