//go:build !linux

package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/SimplyPrint/card-bridge/internal/api"
	"github.com/SimplyPrint/card-bridge/internal/core"
	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/SimplyPrint/card-bridge/internal/welcome"
	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
)

const refreshInterval = 3 * time.Second

// TrayApp manages the system tray icon and menu
type TrayApp struct {
	serverAddr string
	bridge     core.CardBridge
	onQuit     func()

	mu      sync.Mutex
	last    string
	mStatus *systray.MenuItem
	stop    chan struct{}
}

// New creates a tray for the bridge served at serverAddr.
func New(serverAddr string, bridge core.CardBridge, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		bridge:     bridge,
		onQuit:     onQuit,
		stop:       make(chan struct{}),
	}
}

// RunWithServer runs the tray on the main thread and starts the server in a goroutine.
// It blocks and must be called from the main goroutine on macOS.
func (t *TrayApp) RunWithServer(serverStart func()) {
	systray.Run(func() {
		t.onReady()
		if serverStart != nil {
			go serverStart()
		}
	}, t.onExit)
}

// Quit closes the tray, which makes RunWithServer return.
func (t *TrayApp) Quit() {
	systray.Quit()
}

func (t *TrayApp) statusURL() string {
	return fmt.Sprintf("http://%s/", t.serverAddr)
}

func (t *TrayApp) onReady() {
	systray.SetIcon(iconData)
	systray.SetTitle("")
	systray.SetTooltip("Card Bridge")

	version := api.Version
	if len(version) > 0 && version[0] >= '0' && version[0] <= '9' {
		version = "v" + version
	}
	mVersion := systray.AddMenuItem("Card Bridge "+version, "")
	mVersion.Disable()

	systray.AddSeparator()

	t.mStatus = systray.AddMenuItem("Reader: checking...", "Card reader status")
	t.mStatus.Disable()

	systray.AddSeparator()

	mOpen := systray.AddMenuItem("Open Status Page", "Open the status page in a browser")
	mCopy := systray.AddMenuItem("Copy Card Info", "Copy the inserted card's ATR to the clipboard")
	mAbout := systray.AddMenuItem("About", "About Card Bridge")

	systray.AddSeparator()

	mQuit := systray.AddMenuItem("Quit", "Stop Card Bridge")

	go t.watchStatus()

	go func() {
		defer logging.RecoverAndLog("tray menu", false)
		for {
			select {
			case <-mOpen.ClickedCh:
				openBrowser(t.statusURL())
			case <-mCopy.ClickedCh:
				go t.copyCardInfo()
			case <-mAbout.ClickedCh:
				go welcome.ShowAbout(t.statusURL(), api.Version)
			case <-mQuit.ClickedCh:
				systray.Quit()
			case <-t.stop:
				return
			}
		}
	}()
}

func (t *TrayApp) onExit() {
	close(t.stop)
	if t.onQuit != nil {
		t.onQuit()
	}
}

// watchStatus keeps the status item in sync with reader hot-plug.
func (t *TrayApp) watchStatus() {
	defer logging.RecoverAndLog("tray status", false)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		t.refresh()
		select {
		case <-ticker.C:
		case <-t.stop:
			return
		}
	}
}

func (t *TrayApp) refresh() {
	st := t.bridge.ProbeStatus()
	line := statusLine(st)

	t.mu.Lock()
	defer t.mu.Unlock()
	if line == t.last {
		return
	}
	t.last = line
	t.mStatus.SetTitle(line)
	systray.SetTooltip(tooltip(st))
}

// copyCardInfo diagnoses the inserted card and copies the result. Nothing
// is written to the card.
func (t *TrayApp) copyCardInfo() {
	defer logging.RecoverAndLog("tray copy", false)

	d, err := t.bridge.Diagnose()
	if err != nil {
		logging.Warn(logging.CatCard, "Copy card info failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	text := clipboardText(d)
	if err := clipboard.WriteAll(text); err != nil {
		logging.Warn(logging.CatSystem, "Failed to copy to clipboard", map[string]any{
			"error": err.Error(),
		})
		return
	}
	logging.Info(logging.CatCard, "Copied card info to clipboard", map[string]any{
		"atr": d.ATR,
	})
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logging.Warn(logging.CatSystem, "Failed to open browser", map[string]any{
			"url":   url,
			"error": err.Error(),
		})
	}
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
