package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/apply"
	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
	"github.com/poa-ops/poactl/internal/status"
	"github.com/poa-ops/poactl/internal/supervisor"
)

func newTestServer(t *testing.T) (*Server, *document.Store) {
	t.Helper()

	dir := t.TempDir()
	docPath := filepath.Join(dir, "poa_config.yaml")
	envPath := filepath.Join(dir, ".env")
	recordPath := filepath.Join(dir, "last_apply.json")

	store := document.NewStore(docPath)
	doc := document.Default()
	doc.Security.Password = "operator-secret"
	require.NoError(t, store.Save(doc))

	backups := backup.NewManager(filepath.Join(dir, "backups"), zap.NewNop())
	stack := supervisor.NewStack(zap.NewNop())
	orchestrators := func() (*apply.Orchestrator, error) {
		probe := supervisor.NewProbe("http://127.0.0.1:1/", zap.NewNop())
		probe.Attempts = 1
		probe.Interval = time.Millisecond
		return apply.NewOrchestrator(store, backups, stack, probe, apply.Options{
			EnvPath:    envPath,
			RecordPath: recordPath,
		}, zap.NewNop()), nil
	}
	reporter := status.NewReporter(docPath, envPath, recordPath, backups, stack)

	return NewServer(store, orchestrators, backups, reporter, zap.NewNop()), store
}

func doRequest(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Status(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report status.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "POA", report.System.AppName)
	assert.True(t, report.Valid)
	assert.NotContains(t, rec.Body.String(), "operator-secret",
		"the status surface must never expose credentials")
}

func TestServer_ValidateReportsViolations(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.Save(document.Default()))

	rec := doRequest(t, srv, http.MethodPost, "/api/validate", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var payload struct {
		Valid      bool              `json:"valid"`
		Violations []json.RawMessage `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.False(t, payload.Valid)
	assert.NotEmpty(t, payload.Violations)
}

func TestServer_ValidateOK(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/validate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_KISAdd(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/kis", map[string]any{
		"number":         7,
		"key":            "k",
		"secret":         "s",
		"account_number": "12345678-01",
		"account_code":   "01",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc.KISAccounts, 1)
	assert.Equal(t, 7, doc.KISAccounts[0].Number)
}

func TestServer_KISAddRejectsBadNumber(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/kis", map[string]any{"number": 51})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_KISRemove(t *testing.T) {
	srv, store := newTestServer(t)
	doc, err := store.Load()
	require.NoError(t, err)
	doc.UpsertKISAccount(document.KISAccount{Number: 3, Key: "k", Secret: "s", AccountNumber: "n", AccountCode: "c"})
	require.NoError(t, store.Save(doc))

	rec := doRequest(t, srv, http.MethodDelete, "/api/kis/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, "/api/kis/3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_KISRemoveBadNumber(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodDelete, "/api/kis/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Backups(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var metas []backup.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metas))
	assert.Empty(t, metas)
}

func TestServer_ExchangeSet(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/exchange", map[string]any{
		"exchange":   "OKX",
		"enabled":    true,
		"key":        "k",
		"secret":     "s",
		"passphrase": "p",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := store.Load()
	require.NoError(t, err)
	ex := doc.Exchanges[document.ExchangeOKX]
	assert.True(t, ex.Enabled)
	assert.Equal(t, "k", ex.Key)
	assert.Equal(t, "s", ex.Secret)
	assert.Equal(t, "p", ex.Passphrase)
}

func TestServer_ExchangeDisable(t *testing.T) {
	srv, store := newTestServer(t)
	doc, err := store.Load()
	require.NoError(t, err)
	doc.Exchanges[document.ExchangeBybit] = document.ExchangeSection{Enabled: true, Key: "k", Secret: "s"}
	require.NoError(t, store.Save(doc))

	rec := doRequest(t, srv, http.MethodPost, "/api/exchange", map[string]any{
		"exchange": "bybit",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err = store.Load()
	require.NoError(t, err)
	assert.False(t, doc.Exchanges[document.ExchangeBybit].Enabled)
	assert.Empty(t, doc.Exchanges[document.ExchangeBybit].Key,
		"stale credentials must not survive a disable")
}

func TestServer_ExchangeSetUnknown(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/exchange", map[string]any{
		"exchange": "ftx", "enabled": true, "key": "k", "secret": "s",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_CorruptDocumentIsClientError(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, document.AtomicWriteFile(store.Path(), []byte("system: [broken"), 0o600))

	rec := doRequest(t, srv, http.MethodPost, "/api/validate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code,
		"a malformed document is fixed by the operator, not the server")
}

func TestServer_ApplyVerifiesAgainstAppliedPort(t *testing.T) {
	srvOld := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srvNew := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srvNew.Close()

	dir := t.TempDir()
	docPath := filepath.Join(dir, "poa_config.yaml")
	envPath := filepath.Join(dir, ".env")
	recordPath := filepath.Join(dir, "last_apply.json")

	store := document.NewStore(docPath)
	doc := document.Default()
	doc.Security.Password = "operator-secret"
	doc.System.Port = serverPort(t, srvOld)
	require.NoError(t, store.Save(doc))

	backups := backup.NewManager(filepath.Join(dir, "backups"), zap.NewNop())
	stack := supervisor.NewStack(zap.NewNop())
	// probe built per apply from the document's current port, as serve wires it
	orchestrators := func() (*apply.Orchestrator, error) {
		current, err := store.Load()
		if err != nil {
			return nil, err
		}
		probe := supervisor.NewProbe(fmt.Sprintf("http://127.0.0.1:%d/", current.System.Port), zap.NewNop())
		probe.Attempts = 1
		probe.Interval = time.Millisecond
		return apply.NewOrchestrator(store, backups, stack, probe, apply.Options{
			EnvPath:    envPath,
			RecordPath: recordPath,
		}, zap.NewNop()), nil
	}
	reporter := status.NewReporter(docPath, envPath, recordPath, backups, stack)
	srv := NewServer(store, orchestrators, backups, reporter, zap.NewNop())

	rec := doRequest(t, srv, http.MethodPost, "/api/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// move the service to a new port and retire the old one; the next apply
	// must verify against the new port
	srvOld.Close()
	doc, err := store.Load()
	require.NoError(t, err)
	doc.System.Port = serverPort(t, srvNew)
	require.NoError(t, store.Save(doc))

	rec = doRequest(t, srv, http.MethodPost, "/api/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result apply.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Succeeded())
	assert.False(t, result.RolledBack)
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestServer_ApplyFailureReturnsResult(t *testing.T) {
	// the probe points at a closed port, so the apply fails at verification
	// and rolls back
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/apply", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var payload struct {
		Error  string        `json:"error"`
		Result *apply.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotNil(t, payload.Result)
	assert.Equal(t, apply.StageVerifying, payload.Result.FailedStage)
	assert.True(t, payload.Result.RolledBack)
}
