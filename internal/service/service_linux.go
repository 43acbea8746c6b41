//go:build linux

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// linuxService installs a systemd user unit. The bridge runs headless there.
type linuxService struct {
	unitDir string
}

// New creates a new platform-specific service manager
func New() Service {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return &linuxService{unitDir: filepath.Join(configDir, "systemd", "user")}
}

func (s *linuxService) unitPath() string {
	return filepath.Join(s.unitDir, appName+".service")
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *linuxService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executablePath()
	if err != nil {
		return err
	}

	if err := writeUnit(s.unitPath(), "systemd unit", systemdUnitTemplate, unitData{
		Label:          appName,
		ExecutablePath: execPath,
	}); err != nil {
		return err
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	// enabled for the next login; the running instance keeps the port for now
	return systemctl("enable", appName+".service")
}

func (s *linuxService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	_ = systemctl("disable", appName+".service")

	if err := os.Remove(s.unitPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}

	_ = systemctl("daemon-reload")
	return nil
}

func (s *linuxService) IsInstalled() bool {
	return exists(s.unitPath())
}

func (s *linuxService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}

	out, _ := exec.Command("systemctl", "--user", "is-active", appName+".service").Output()
	if state := strings.TrimSpace(string(out)); state == "active" {
		return "running", nil
	}
	if exec.Command("pgrep", "-x", appName).Run() == nil {
		return "installed, running outside systemd", nil
	}
	return "installed but not running", nil
}
