package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SimplyPrint/card-bridge/internal/core"
	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/SimplyPrint/card-bridge/internal/settings"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, bridge core.CardBridge, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	NewServer(bridge).NewMux().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result), "body: %s", w.Body.String())
	return result
}

func TestHandleStatus_NoReader(t *testing.T) {
	w := serve(t, newFakeBridge(), http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"status":"online","reader":null,"ready":false}`, w.Body.String())
}

func TestHandleStatus_ReaderPresent(t *testing.T) {
	bridge := newFakeBridge()
	bridge.statuses = []core.Status{readerStatus("ACS ACR38U")}

	w := serve(t, bridge, http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"online","reader":"ACS ACR38U","ready":true}`, w.Body.String())
}

func TestHandleStatus_DiscoveryErrorIsStill200(t *testing.T) {
	bridge := newFakeBridge()
	bridge.statuses = []core.Status{{Status: core.StatusError, Message: "smart card service unavailable"}}

	w := serve(t, bridge, http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	require.Equal(t, "error", result["status"])
	require.Equal(t, "smart card service unavailable", result["message"])
	require.Equal(t, false, result["ready"])
}

func TestHandleWrite_Success(t *testing.T) {
	bridge := newFakeBridge()
	body := `{"cardNumber":"1234-5678-ABCD-EFGH-99","holderName":"J. DOE","expiryDate":"12/27"}`

	w := serve(t, bridge, http.MethodPost, "/write", body)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true}`, w.Body.String())
	require.Equal(t, []core.WriteRequest{{
		CardNumber: "1234-5678-ABCD-EFGH-99",
		HolderName: "J. DOE",
		ExpiryDate: "12/27",
	}}, bridge.writes)
}

func TestHandleWrite_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "no reader",
			err:  &core.Error{Kind: core.KindDiscovery, Op: "list readers", Err: core.ErrNoReader},
			want: "no reader detected",
		},
		{
			name: "locked card",
			err:  &core.Error{Kind: core.KindProtocol, Op: "verify", Status: 0x6983, Msg: "security code verification failed with status 69 83"},
			want: "69 83",
		},
		{
			name: "connect",
			err:  &core.Error{Kind: core.KindConnect, Op: "connect", Msg: "failed to connect to card"},
			want: "failed to connect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge()
			bridge.writeErr = tt.err

			w := serve(t, bridge, http.MethodPost, "/write", `{"cardNumber":"1","holderName":"A","expiryDate":"01/30"}`)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			result := decode(t, w)
			require.Equal(t, false, result["success"])
			require.Contains(t, result["error"], tt.want)
		})
	}
}

func TestHandleWrite_MalformedBody(t *testing.T) {
	bridge := newFakeBridge()

	w := serve(t, bridge, http.MethodPost, "/write", `{"cardNumber":`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	result := decode(t, w)
	require.Equal(t, false, result["success"])
	require.Zero(t, bridge.writeCount(), "malformed body must not reach the card")
}

func TestHandleWrite_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			bridge := newFakeBridge()
			w := serve(t, bridge, method, "/write", "")
			require.Equal(t, http.StatusMethodNotAllowed, w.Code)
			require.Zero(t, bridge.writeCount())
		})
	}
}

func TestCORSHeaders(t *testing.T) {
	for _, path := range []string{"/status", "/write", "/diagnose", "/read", "/v1/version"} {
		t.Run(path, func(t *testing.T) {
			bridge := newFakeBridge()
			w := serve(t, bridge, http.MethodOptions, path, "")

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			require.Equal(t, "GET, POST, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			require.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
			require.Zero(t, bridge.statusCalls)
			require.Zero(t, bridge.writeCount())
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		panic("reader exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "internal server error", decode(t, w)["error"])
}

func TestHandleDiagnose(t *testing.T) {
	t.Run("report", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.diagnosis = &core.Diagnosis{
			Reader:      "ACS ACR38U",
			ReaderType:  "contact",
			ATR:         "A2 13 10 91",
			CardType:    core.CardTypeSLE4442,
			Compatible:  true,
			ProbeStatus: "6A 81",
		}

		w := serve(t, bridge, http.MethodGet, "/diagnose", "")

		require.Equal(t, http.StatusOK, w.Code)
		result := decode(t, w)
		require.Equal(t, "A2 13 10 91", result["atr"])
		require.Equal(t, true, result["compatible"])
		require.Equal(t, "6A 81", result["probeStatus"])
	})

	t.Run("failure", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.diagErr = &core.Error{Kind: core.KindConnect, Op: "connect", Msg: "no card"}

		w := serve(t, bridge, http.MethodGet, "/diagnose", "")

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"success":false,"error":"no card"}`, w.Body.String())
	})
}

func TestHandleRead(t *testing.T) {
	t.Run("defaults to the payload area", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.memory = []byte{core.PayloadMagic, '1', '2'}

		w := serve(t, bridge, http.MethodGet, "/read", "")

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, [][2]int{{0x20, 53}}, bridge.readCalls)
		require.JSONEq(t, `{"address":32,"length":3,"data":"1d3132","hasPayload":true}`, w.Body.String())
	})

	t.Run("hex address", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.memory = []byte{0x00, 0x00}

		w := serve(t, bridge, http.MethodGet, "/read?address=0x40&length=2", "")

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, [][2]int{{0x40, 2}}, bridge.readCalls)
		require.Equal(t, false, decode(t, w)["hasPayload"])
	})

	t.Run("card failure", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.readErr = &core.Error{Kind: core.KindProtocol, Op: "read", Msg: "read error: card returned status 6B 00"}

		w := serve(t, bridge, http.MethodGet, "/read?address=32&length=4", "")

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Contains(t, decode(t, w)["error"], "6B 00")
	})
}

func TestHandleRead_BadParams(t *testing.T) {
	for _, query := range []string{
		"address=abc",
		"length=-",
		"address=0&length=4",
		"address=31&length=1",
		"address=32&length=0",
		"address=250&length=10",
	} {
		t.Run(query, func(t *testing.T) {
			bridge := newFakeBridge()
			w := serve(t, bridge, http.MethodGet, "/read?"+query, "")

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Empty(t, bridge.readCalls, "invalid range must not reach the card")
		})
	}
}

func TestHandleVersion(t *testing.T) {
	origVersion, origBuildTime, origGitCommit := Version, BuildTime, GitCommit
	Version, BuildTime, GitCommit = "1.2.3-test", "2024-01-15T10:30:00Z", "abc1234"
	defer func() {
		Version, BuildTime, GitCommit = origVersion, origBuildTime, origGitCommit
	}()

	w := serve(t, newFakeBridge(), http.MethodGet, "/v1/version", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"version":"1.2.3-test","buildTime":"2024-01-15T10:30:00Z","gitCommit":"abc1234"}`, w.Body.String())
}

func TestHandleVersion_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			w := serve(t, newFakeBridge(), method, "/v1/version", "")
			require.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.readers = []core.Reader{{ID: "reader-0", Name: "ACS ACR38U", Type: "contact"}}

		w := serve(t, bridge, http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		result := decode(t, w)
		require.Equal(t, "ok", result["status"])
		require.Equal(t, float64(1), result["readerCount"])
	})

	t.Run("card service down", func(t *testing.T) {
		bridge := newFakeBridge()
		bridge.listErr = &core.Error{Kind: core.KindDiscovery, Msg: "smart card service unavailable"}

		w := serve(t, bridge, http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusOK, w.Code)
		result := decode(t, w)
		require.Equal(t, "degraded", result["status"])
		require.Equal(t, "smart card service unavailable", result["error"])
	})
}

func TestHandleLogs(t *testing.T) {
	logging.Init(100, logging.LevelDebug)
	logging.Get().SetEcho(false)
	logging.Info(logging.CatCard, "Card written", nil)
	logging.Debug(logging.CatReader, "No readers found", nil)

	w := serve(t, newFakeBridge(), http.MethodGet, "/v1/logs?level=info&category=card", "")

	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Entries []struct {
			Level    string `json:"level"`
			Category string `json:"category"`
			Message  string `json:"message"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Entries, 1)
	require.Equal(t, "Card written", result.Entries[0].Message)
	require.Equal(t, "info", result.Entries[0].Level)

	w = serve(t, newFakeBridge(), http.MethodDelete, "/v1/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, logging.Get().GetEntries(0, nil, nil))
}

func TestHandleCrashes_RejectsPaths(t *testing.T) {
	w := serve(t, newFakeBridge(), http.MethodGet, "/v1/crashes?file=../settings.json", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleShutdown(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		SetShutdownHandler(nil)
		w := serve(t, newFakeBridge(), http.MethodPost, "/v1/shutdown", "")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("triggers handler", func(t *testing.T) {
		called := make(chan struct{})
		SetShutdownHandler(func() { close(called) })
		defer SetShutdownHandler(nil)

		w := serve(t, newFakeBridge(), http.MethodPost, "/v1/shutdown", "")
		require.Equal(t, http.StatusOK, w.Code)

		select {
		case <-called:
		case <-time.After(time.Second):
			t.Fatal("shutdown handler not called")
		}
	})
}

// stubSettingsSave replaces the settings writer and isolates the config dir.
func stubSettingsSave(t *testing.T, saveErr error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	old := updateSettings
	updateSettings = func(fn func(s *settings.Settings)) error {
		if saveErr != nil {
			return saveErr
		}
		var s settings.Settings
		fn(&s)
		return nil
	}
	t.Cleanup(func() { updateSettings = old })
}

func debugKept(t *testing.T) bool {
	t.Helper()
	logging.Get().Log(logging.LevelDebug, logging.CatSystem, "level check", nil)
	for _, e := range logging.Get().GetEntries(0, nil, nil) {
		if e.Message == "level check" {
			return true
		}
	}
	return false
}

func TestHandleSettings_LogLevelAppliedAfterSave(t *testing.T) {
	logging.Init(50, logging.LevelDebug)
	logging.Get().SetEcho(false)
	stubSettingsSave(t, nil)

	w := serve(t, newFakeBridge(), http.MethodPost, "/v1/settings", `{"logLevel":"warn"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.False(t, debugKept(t), "debug entries should be dropped at warn level")
}

func TestHandleSettings_SaveFailureKeepsLogLevel(t *testing.T) {
	logging.Init(50, logging.LevelDebug)
	logging.Get().SetEcho(false)
	stubSettingsSave(t, errors.New("read-only file system"))

	w := serve(t, newFakeBridge(), http.MethodPost, "/v1/settings", `{"logLevel":"error"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, decode(t, w)["error"], "read-only file system")
	require.True(t, debugKept(t), "log level changed although the save failed")
}

func TestHandleSettings_InvalidLevel(t *testing.T) {
	stubSettingsSave(t, nil)

	w := serve(t, newFakeBridge(), http.MethodPost, "/v1/settings", `{"logLevel":"loud"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewMux_RootServesWebUI(t *testing.T) {
	w := serve(t, newFakeBridge(), http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Card Bridge")
}

func TestIntParam(t *testing.T) {
	n, err := intParam("", 7)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = intParam("0x20", 0)
	require.NoError(t, err)
	require.Equal(t, 32, n)

	_, err = intParam("twelve", 0)
	require.Error(t, err)
}
