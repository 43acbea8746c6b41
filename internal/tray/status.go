package tray

import "github.com/SimplyPrint/card-bridge/internal/core"

// statusLine is the tray menu text for a probe result.
func statusLine(st core.Status) string {
	switch {
	case !st.Online():
		return "Card service unavailable"
	case st.Ready:
		return "Reader: " + st.ReaderName()
	default:
		return "Reader: none connected"
	}
}

// tooltip is shown when hovering the icon.
func tooltip(st core.Status) string {
	if st.Online() && st.Ready {
		return "Card Bridge - ready"
	}
	return "Card Bridge - " + statusLine(st)
}

// clipboardText is what "Copy Card Info" puts on the clipboard: the ATR,
// plus the card ID when the reader answered the GET DATA probe.
func clipboardText(d *core.Diagnosis) string {
	s := "ATR " + d.ATR + " (" + d.CardType + ")"
	if d.UID != "" {
		s += " ID " + d.UID
	}
	return s
}
