package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// SentryDSN is the release build's crash reporting DSN, set with
// -ldflags "-X github.com/SimplyPrint/card-bridge/internal/logging.SentryDSN=...".
// Development builds leave it empty.
var SentryDSN = ""

// SentryOptions controls crash reporting. Env vars override the stored setting:
// CARD_BRIDGE_SENTRY=1/0 forces it on or off, CARD_BRIDGE_SENTRY_DSN sets the DSN.
type SentryOptions struct {
	Version string
	Enabled bool
	DSN     string
}

// InitSentry initializes Sentry. It returns false when reporting stays off,
// either by choice or because no DSN is configured.
func InitSentry(opts SentryOptions) bool {
	enabled := opts.Enabled
	switch os.Getenv("CARD_BRIDGE_SENTRY") {
	case "1":
		enabled = true
	case "0":
		enabled = false
	}
	if !enabled {
		return false
	}

	dsn := sentryDSN(opts.DSN)
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but no DSN configured", nil)
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "card-bridge@" + opts.Version,
		Environment:      environment(),
		AttachStacktrace: true,
		TracesSampleRate: 0.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize Sentry: %v\n", err)
		return false
	}

	sentryEnabled = true
	return true
}

// sentryDSN picks the DSN: environment first, then explicit, then the built-in one.
func sentryDSN(explicit string) string {
	if env := os.Getenv("CARD_BRIDGE_SENTRY_DSN"); env != "" {
		return env
	}
	if explicit != "" {
		return explicit
	}
	return SentryDSN
}

// SentryConfigured reports whether crash reports have somewhere to go.
func SentryConfigured() bool {
	return sentryDSN("") != ""
}

func environment() string {
	if env := os.Getenv("CARD_BRIDGE_ENVIRONMENT"); env != "" {
		return env
	}
	return "production"
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled
}

// FlushSentry flushes buffered events. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// CapturePanic sends a recovered panic with its stack.
func CapturePanic(panicValue interface{}, stack []byte, context string) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", context)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		switch v := panicValue.(type) {
		case error:
			sentry.CaptureException(v)
		default:
			sentry.CaptureMessage(fmt.Sprint(v))
		}
	})

	// the process may be about to die
	sentry.Flush(2 * time.Second)
}

// CaptureError sends a non-fatal error, tagged with where it happened.
func CaptureError(err error, context string, data map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}
