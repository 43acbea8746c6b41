package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/SimplyPrint/card-bridge/internal/core"
	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/SimplyPrint/card-bridge/internal/service"
	"github.com/SimplyPrint/card-bridge/internal/settings"
	"github.com/SimplyPrint/card-bridge/internal/updater"
	"github.com/SimplyPrint/card-bridge/internal/web"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	if Version != "" {
		return
	}
	// dev build: derive a version from VCS stamping
	Version = "dev"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			GitCommit = s.Value
		case "vcs.time":
			BuildTime = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if GitCommit != "" {
		short := GitCommit
		if len(short) > 7 {
			short = short[:7]
		}
		Version = "dev-" + short
		if dirty {
			Version += "-dirty"
		}
	}
}

// Defaults for GET /read: the whole payload area written by /write.
const (
	defaultReadAddress = core.MainMemoryAddress
	defaultReadLength  = 1 + core.MaxCardNumberChars + core.MaxExpiryChars + core.MaxHolderNameChars
)

var (
	shutdownHandler func()
	updateChecker   *updater.Checker

	// updateSettings persists settings changes; tests replace it.
	updateSettings = settings.Update
)

// SetShutdownHandler sets the callback for POST /v1/shutdown.
func SetShutdownHandler(handler func()) {
	shutdownHandler = handler
}

// InitUpdateChecker initializes the update checker with the current version
func InitUpdateChecker() {
	updateChecker = updater.NewChecker(Version)
}

// Server exposes a CardBridge over HTTP and websocket.
type Server struct {
	bridge core.CardBridge
	hub    *WSHub
}

// NewServer creates a server for bridge. The websocket hub is started
// lazily by WebSocketHandler.
func NewServer(bridge core.CardBridge) *Server {
	return &Server{bridge: bridge}
}

// NewMux constructs and returns the HTTP mux for the API.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", web.Handler())

	// front end contract
	mux.HandleFunc("/status", corsMiddleware(s.handleStatus))
	mux.HandleFunc("/write", corsMiddleware(s.handleWrite))
	mux.HandleFunc("/diagnose", corsMiddleware(s.handleDiagnose))
	mux.HandleFunc("/read", corsMiddleware(s.handleRead))

	mux.HandleFunc("/v1/version", corsMiddleware(handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(s.handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/crashes", corsMiddleware(handleCrashes))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/shutdown", corsMiddleware(handleShutdown))
	mux.HandleFunc("/v1/autostart", corsMiddleware(handleAutostart))
	mux.HandleFunc("/v1/updates", corsMiddleware(handleUpdates))
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				logging.CapturePanic(rec, stack, context)
				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		recoveryMiddleware(next)(w, r)
	}
}

// handleStatus is polled by the front end. It always answers 200;
// discovery problems are reported inside the body.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, s.bridge.ProbeStatus())
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req core.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, core.TransactionResult{
			Error: "invalid request body",
		})
		return
	}

	result := core.ResultOf(s.bridge.WriteCard(req))
	s.broadcastWrite(result)

	if !result.Success {
		respondJSON(w, http.StatusInternalServerError, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	d, err := s.bridge.Diagnose()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, core.ResultOf(err))
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	address, err := intParam(query.Get("address"), defaultReadAddress)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid address"})
		return
	}
	length, err := intParam(query.Get("length"), defaultReadLength)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid length"})
		return
	}
	if err := core.CheckMemoryRange(address, length); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	data, err := s.bridge.ReadMemory(address, length)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, core.ResultOf(err))
		return
	}

	logging.Info(logging.CatCard, "Card memory read", map[string]any{
		"address": address,
		"length":  len(data),
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address":    address,
		"length":     len(data),
		"data":       hex.EncodeToString(data),
		"hasPayload": address == core.MainMemoryAddress && len(data) > 0 && data[0] == core.PayloadMagic,
	})
}

// intParam parses a decimal or 0x-prefixed query value.
func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 0, 32)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	}

	if updateChecker != nil {
		info := updateChecker.Check(false)
		response["updateAvailable"] = info.Available
		if info.LatestVersion != "" {
			response["latestVersion"] = info.LatestVersion
		}
		if info.ReleaseURL != "" {
			response["releaseUrl"] = info.ReleaseURL
		}
	}

	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, healthReport(s.bridge))
}

func healthReport(bridge core.CardBridge) map[string]interface{} {
	readers, err := bridge.ListReaders()
	if err != nil {
		return map[string]interface{}{
			"status":      "degraded",
			"readerCount": 0,
			"error":       err.Error(),
		}
	}
	return map[string]interface{}{
		"status":      "ok",
		"readerCount": len(readers),
		"readers":     readers,
	}
}

func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if shutdownHandler == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "shutdown not available",
		})
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	// after the response is flushed
	go shutdownHandler()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func handleAutostart(w http.ResponseWriter, r *http.Request) {
	svc := service.New()

	switch r.Method {
	case http.MethodGet:
		status, _ := svc.Status()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": svc.IsInstalled(),
			"status":  status,
		})

	case http.MethodPost:
		if svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{
				"success": "auto-start already enabled",
			})
			return
		}
		if err := svc.Install(); err != nil {
			logging.Error(logging.CatSystem, "Failed to enable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}
		logging.Info(logging.CatSystem, "Auto-start enabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "auto-start enabled",
		})

	case http.MethodDelete:
		if !svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{
				"success": "auto-start already disabled",
			})
			return
		}
		if err := svc.Uninstall(); err != nil {
			logging.Error(logging.CatSystem, "Failed to disable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}
		logging.Info(logging.CatSystem, "Auto-start disabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "auto-start disabled",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		limit := 100
		if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
			limit = min(l, 1000)
		}

		var minLevel *logging.Level
		if l, ok := logging.ParseLevel(query.Get("level")); ok {
			minLevel = &l
		}

		var category *logging.Category
		if c := query.Get("category"); c != "" {
			cat := logging.Category(c)
			category = &cat
		}

		logger := logging.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": logger.GetEntries(limit, minLevel, category),
			"stats":   logger.Stats(),
		})

	case http.MethodDelete:
		logging.Get().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "crash log not found: " + err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"filename": filename,
			"content":  content,
		})
		return
	}

	limit := 20
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = min(l, 100)
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list crash logs: " + err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

// handleSettings handles GET and POST requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, settings.Get())

	case http.MethodPost:
		var req struct {
			CrashReporting *bool   `json:"crashReporting"`
			LogLevel       *string `json:"logLevel"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body: " + err.Error(),
			})
			return
		}
		if req.LogLevel != nil {
			if _, ok := logging.ParseLevel(*req.LogLevel); !ok {
				respondJSON(w, http.StatusBadRequest, map[string]string{
					"error": "logLevel must be one of debug, info, warn, error",
				})
				return
			}
		}

		err := updateSettings(func(s *settings.Settings) {
			if req.CrashReporting != nil {
				s.CrashReporting = *req.CrashReporting
			}
			if req.LogLevel != nil {
				s.LogLevel = *req.LogLevel
			}
		})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save settings: " + err.Error(),
			})
			return
		}

		if req.LogLevel != nil {
			level, _ := logging.ParseLevel(*req.LogLevel)
			logging.Get().SetMinLevel(level)
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"settings": settings.Get(),
			"message":  "Settings updated. Crash reporting changes take effect after a restart.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleUpdates checks for available updates from GitHub releases
func handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if updateChecker == nil {
		InitUpdateChecker()
	}

	info := updateChecker.Check(r.URL.Query().Get("refresh") == "true")
	respondJSON(w, http.StatusOK, info)
}
