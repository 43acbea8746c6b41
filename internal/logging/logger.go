package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalJSON encodes the level as its name so the web UI can filter on it.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLevel converts a level name ("debug", "info", "warn", "error").
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelDebug, false
}

// Category groups entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatHTTP      Category = "http"
	CatReader    Category = "reader"
	CatCard      Category = "card"
	CatWebSocket Category = "websocket"
)

// Entry is a single log line kept in memory.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarizes the buffer contents.
type Stats struct {
	Total      int              `json:"total"`
	Capacity   int              `json:"capacity"`
	Dropped    int              `json:"dropped"`
	ByLevel    map[string]int   `json:"byLevel"`
	ByCategory map[Category]int `json:"byCategory"`
}

// Logger is a fixed-size ring buffer of entries.
type Logger struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	dropped  int
	minLevel Level
	echo     bool
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// New creates a logger holding at most capacity entries.
func New(capacity int, minLevel Level) *Logger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Logger{
		entries:  make([]Entry, capacity),
		minLevel: minLevel,
		echo:     true,
	}
}

// Init replaces the global logger.
func Init(capacity int, minLevel Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = New(capacity, minLevel)
}

// Get returns the global logger, creating a default one if Init was never called.
func Get() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(1000, LevelInfo)
	}
	return global
}

// SetEcho controls whether entries are also written to the standard logger.
func (l *Logger) SetEcho(echo bool) {
	l.mu.Lock()
	l.echo = echo
	l.mu.Unlock()
}

// SetMinLevel changes the level below which entries are discarded.
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// Log records an entry if it passes the minimum level.
func (l *Logger) Log(level Level, cat Category, msg string, data map[string]any) {
	e := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		Data:      data,
	}

	l.mu.Lock()
	if level < l.minLevel {
		l.mu.Unlock()
		return
	}
	if l.full {
		l.dropped++
	}
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	echo := l.echo
	l.mu.Unlock()

	if echo {
		log.Print(formatEntry(e))
	}
}

// GetEntries returns up to limit entries, newest first. A nil filter matches everything.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Entry{}
	count := l.count()
	for i := 0; i < count && (limit <= 0 || len(out) < limit); i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Stats reports counts per level and category.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Capacity:   len(l.entries),
		Dropped:    l.dropped,
		ByLevel:    map[string]int{},
		ByCategory: map[Category]int{},
	}
	count := l.count()
	for i := 0; i < count; i++ {
		e := l.entries[i]
		s.Total++
		s.ByLevel[e.Level.String()]++
		s.ByCategory[e.Category]++
	}
	return s
}

// Clear drops every entry.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, len(l.entries))
	l.next = 0
	l.full = false
	l.dropped = 0
}

func (l *Logger) count() int {
	if l.full {
		return len(l.entries)
	}
	return l.next
}

func formatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", strings.ToUpper(e.Level.String()), e.Category, e.Message)
	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}
	return b.String()
}

func Debug(cat Category, msg string, data map[string]any) { Get().Log(LevelDebug, cat, msg, data) }
func Info(cat Category, msg string, data map[string]any)  { Get().Log(LevelInfo, cat, msg, data) }
func Warn(cat Category, msg string, data map[string]any)  { Get().Log(LevelWarn, cat, msg, data) }
func Error(cat Category, msg string, data map[string]any) { Get().Log(LevelError, cat, msg, data) }
