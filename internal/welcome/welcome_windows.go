//go:build windows

package welcome

import "golang.org/x/sys/windows"

const (
	mbOK           = 0x00000000
	mbYesNo        = 0x00000004
	mbIconQuestion = 0x00000020
	mbIconInfo     = 0x00000040
	idYes          = 6
)

// Supported reports whether native dialogs are available.
func Supported() bool { return true }

// ShowWelcome displays the first-run dialog.
func ShowWelcome(statusURL string) {
	messageBox(title, welcomeText(statusURL), mbOK|mbIconInfo)
}

// ShowAbout displays the about dialog.
func ShowAbout(statusURL, version string) {
	messageBox("About "+title, aboutText(statusURL, version), mbOK|mbIconInfo)
}

// PromptCrashReporting asks for consent. Closing the dialog means no.
func PromptCrashReporting() bool {
	return messageBox(title, crashReportingText, mbYesNo|mbIconQuestion) == idYes
}

func messageBox(caption, text string, style uint32) int32 {
	textPtr, err := windows.UTF16PtrFromString(text)
	if err != nil {
		return 0
	}
	captionPtr, err := windows.UTF16PtrFromString(caption)
	if err != nil {
		return 0
	}
	ret, _ := windows.MessageBox(0, textPtr, captionPtr, style)
	return ret
}
