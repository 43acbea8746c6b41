package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting bool   `json:"crashReporting"` // send crash reports to Sentry
	LogLevel       string `json:"logLevel"`       // minimum level kept in the in-memory log
	WelcomeShown   bool   `json:"welcomeShown"`
}

var (
	current *Settings
	mu      sync.RWMutex

	// pathOverride replaces the user config location when set (tests).
	pathOverride string
)

// DefaultSettings returns the defaults. Crash reporting is opt-in.
func DefaultSettings() *Settings {
	return &Settings{
		CrashReporting: false,
		LogLevel:       "debug",
	}
}

func settingsPath() (string, error) {
	if pathOverride != "" {
		return pathOverride, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "card-bridge", "settings.json"), nil
}

// Load reads settings from disk. Any failure leaves the defaults in place;
// a missing file is not an error.
func Load() (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	current = DefaultSettings()

	path, err := settingsPath()
	if err != nil {
		return current, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return current, nil
		}
		return current, err
	}

	s := DefaultSettings()
	if err := json.Unmarshal(data, s); err != nil {
		return current, err
	}

	current = s
	return current, nil
}

// Save writes the current settings to disk.
func Save() error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		current = DefaultSettings()
	}

	path, err := settingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Get returns a copy of the current settings, loading them on first use.
func Get() Settings {
	mu.RLock()
	if current != nil {
		s := *current
		mu.RUnlock()
		return s
	}
	mu.RUnlock()

	s, _ := Load()
	return *s
}

// Update applies fn to the current settings and saves them.
func Update(fn func(s *Settings)) error {
	mu.Lock()
	if current == nil {
		current = DefaultSettings()
	}
	fn(current)
	mu.Unlock()

	return Save()
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func IsCrashReportingEnabled() bool {
	return Get().CrashReporting
}
