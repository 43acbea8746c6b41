// Package welcome shows native first-run and about dialogs on desktop platforms.
package welcome

import (
	"fmt"

	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/SimplyPrint/card-bridge/internal/settings"
)

const title = "Card Bridge"

func welcomeText(statusURL string) string {
	return fmt.Sprintf(`Card Bridge is now running!

It lets the card writer page in your browser talk to the smart card reader connected to this computer.

Status page: %s

Insert an SLE4442 card into the reader before writing.`, statusURL)
}

func aboutText(statusURL, version string) string {
	return fmt.Sprintf(`Card Bridge %s

A local service that writes SLE4442 memory cards through any PC/SC contact reader, on behalf of the browser front end.

Status page: %s`, version, statusURL)
}

const crashReportingText = `Send anonymous crash reports to help fix problems?

Only crash details are sent. Card data never leaves this computer.

You can change this later on the status page.`

// promptCrashReporting is swapped out in tests.
var promptCrashReporting = PromptCrashReporting

// crashConsent asks about crash reporting only when this build can send
// reports. Without a DSN the answer is always no.
func crashConsent() bool {
	if !logging.SentryConfigured() {
		return false
	}
	return promptCrashReporting()
}

// ShowOnFirstRun shows the welcome dialog and asks for crash reporting
// consent, once per user. It blocks until the dialogs are closed.
func ShowOnFirstRun(statusURL string) {
	if settings.Get().WelcomeShown || !Supported() {
		return
	}

	ShowWelcome(statusURL)
	consent := crashConsent()

	err := settings.Update(func(s *settings.Settings) {
		s.WelcomeShown = true
		s.CrashReporting = consent
	})
	if err != nil {
		logging.Warn(logging.CatSystem, "Failed to save first-run settings", map[string]any{
			"error": err.Error(),
		})
	}
}
