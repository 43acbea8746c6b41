//go:build !darwin && !windows

package welcome

// Supported is false: the bridge runs headless here.
func Supported() bool { return false }

func ShowWelcome(statusURL string) {}

func ShowAbout(statusURL, version string) {}

func PromptCrashReporting() bool { return false }
