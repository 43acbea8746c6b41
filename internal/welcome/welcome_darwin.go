//go:build darwin

package welcome

import (
	"os/exec"
	"strings"
)

// Supported reports whether native dialogs are available.
func Supported() bool { return true }

// ShowWelcome displays the first-run dialog.
func ShowWelcome(statusURL string) {
	dialog(title, welcomeText(statusURL), `{"Got it!"}`)
}

// ShowAbout displays the about dialog.
func ShowAbout(statusURL, version string) {
	dialog("About "+title, aboutText(statusURL, version), `{"OK"}`)
}

// PromptCrashReporting asks for consent. Closing the dialog means no.
func PromptCrashReporting() bool {
	out, err := dialog(title, crashReportingText, `{"No", "Yes"}`)
	return err == nil && strings.Contains(out, "Yes")
}

func dialog(dialogTitle, msg, buttons string) (string, error) {
	script := `display dialog "` + escapeAppleScript(msg) + `" with title "` + escapeAppleScript(dialogTitle) +
		`" buttons ` + buttons + ` default button 1 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	return string(out), err
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
