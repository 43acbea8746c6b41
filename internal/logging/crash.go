package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"
)

const (
	// MaxCrashLogs is the number of crash files kept on disk.
	MaxCrashLogs = 20
	// CrashLogMaxAge is the age after which crash files are removed.
	CrashLogMaxAge = 30 * 24 * time.Hour
)

// crashDir overrides the platform directory when non-empty (tests).
var crashDir string

// CrashLogDir returns the directory for crash logs based on the platform.
func CrashLogDir() string {
	if crashDir != "" {
		return crashDir
	}
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", "Card-Bridge")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData, _ = os.UserHomeDir()
		}
		return filepath.Join(appData, "Card-Bridge", "logs")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "card-bridge", "logs")
	}
}

// CrashLogInfo contains metadata about a crash log file.
type CrashLogInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// WriteCrashLog writes a timestamped crash report and returns its path.
// Old reports are pruned in the background.
func WriteCrashLog(panicValue interface{}, stack []byte) (string, error) {
	dir := CrashLogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create crash log directory: %w", err)
	}

	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("crash_%s.log", now.Format("2006-01-02_15-04-05")))

	var b strings.Builder
	b.WriteString("Card Bridge Crash Report\n")
	b.WriteString("========================\n")
	fmt.Fprintf(&b, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(&b, "OS/Arch: %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Panic Value:\n%v\n\n", panicValue)
	fmt.Fprintf(&b, "Stack Trace:\n%s\n\n", stack)
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(&b, "Build Info:\n%s\n", info.String())
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write crash log: %w", err)
	}

	go cleanupOldCrashLogs(dir)

	return path, nil
}

// RecoverAndLog recovers a panic, records it everywhere it can and optionally re-panics.
// Use as: defer logging.RecoverAndLog("context", false)
func RecoverAndLog(context string, rePanic bool) {
	if r := recover(); r != nil {
		handlePanic(r, context, nil)
		if rePanic {
			panic(r)
		}
	}
}

// RecoverAndLogFunc is RecoverAndLog with a callback that receives the crash file path.
func RecoverAndLogFunc(context string, rePanic bool, onPanic func(panicValue interface{}, crashFile string)) {
	if r := recover(); r != nil {
		handlePanic(r, context, onPanic)
		if rePanic {
			panic(r)
		}
	}
}

func handlePanic(r interface{}, context string, onPanic func(interface{}, string)) {
	stack := debug.Stack()

	CapturePanic(r, stack, context)

	Error(CatSystem, fmt.Sprintf("PANIC in %s: %v", context, r), map[string]any{
		"panic": fmt.Sprintf("%v", r),
		"stack": string(stack),
	})

	crashFile, err := WriteCrashLog(r, stack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
		crashFile = ""
	} else {
		fmt.Fprintf(os.Stderr, "Crash log written to: %s\n", crashFile)
	}

	fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, r, stack)

	if onPanic != nil {
		onPanic(r, crashFile)
	}
}

// GetCrashLogs lists up to limit crash files, newest first.
func GetCrashLogs(limit int) ([]CrashLogInfo, error) {
	dir := CrashLogDir()
	names, err := crashLogNames(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CrashLogInfo{}, nil
		}
		return nil, err
	}

	logs := []CrashLogInfo{}
	for i := len(names) - 1; i >= 0 && len(logs) < limit; i-- {
		info, err := os.Stat(filepath.Join(dir, names[i]))
		if err != nil {
			continue
		}
		logs = append(logs, CrashLogInfo{
			Name:    names[i],
			Path:    filepath.Join(dir, names[i]),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return logs, nil
}

// ReadCrashLog returns the contents of a crash file. Only bare file names are accepted.
func ReadCrashLog(filename string) (string, error) {
	if filepath.Base(filename) != filename || !isCrashLogName(filename) {
		return "", fmt.Errorf("invalid filename")
	}

	content, err := os.ReadFile(filepath.Join(CrashLogDir(), filename))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// crashLogNames returns crash_*.log names in dir sorted oldest first.
func crashLogNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isCrashLogName(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isCrashLogName(name string) bool {
	return strings.HasPrefix(name, "crash_") && strings.HasSuffix(name, ".log")
}

// cleanupOldCrashLogs keeps the newest MaxCrashLogs files in dir and drops anything older than CrashLogMaxAge.
func cleanupOldCrashLogs(dir string) {
	names, err := crashLogNames(dir)
	if err != nil {
		return
	}

	now := time.Now()
	for i, name := range names {
		path := filepath.Join(dir, name)
		tooMany := len(names)-i > MaxCrashLogs
		tooOld := false
		if info, err := os.Stat(path); err == nil {
			tooOld = now.Sub(info.ModTime()) > CrashLogMaxAge
		}
		if tooMany || tooOld {
			_ = os.Remove(path)
		}
	}
}
