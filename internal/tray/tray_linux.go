package tray

import "github.com/SimplyPrint/card-bridge/internal/core"

// TrayApp is a stand-in on Linux, where the bridge runs headless as a user service.
type TrayApp struct{}

func New(serverAddr string, bridge core.CardBridge, onQuit func()) *TrayApp {
	return &TrayApp{}
}

// RunWithServer starts the server and returns immediately.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		go serverStart()
	}
}

func (t *TrayApp) Quit() {}

// IsSupported returns false: there is no tray on this platform.
func IsSupported() bool {
	return false
}
