package apply

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
	"github.com/poa-ops/poactl/internal/supervisor"
)

// fakeSupervisor records restart requests and can be told to refuse the next
// N of them.
type fakeSupervisor struct {
	mu       sync.Mutex
	restarts []string
	failNext int
}

func (f *fakeSupervisor) Restart(_ context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, service)
	if f.failNext > 0 {
		f.failNext--
		return errors.New("restart refused")
	}
	return nil
}

func (f *fakeSupervisor) IsHealthy(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (f *fakeSupervisor) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

type fixture struct {
	orch    *Orchestrator
	store   *document.Store
	backups *backup.Manager
	fake    *fakeSupervisor
	envPath string
	record  string
}

// newFixture wires an orchestrator over temp paths, a recording supervisor
// and a liveness endpoint answering the given status.
func newFixture(t *testing.T, liveStatus int) *fixture {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(liveStatus)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	store := document.NewStore(filepath.Join(dir, "poa_config.yaml"))
	backups := backup.NewManager(filepath.Join(dir, "backups"), zap.NewNop())
	fake := &fakeSupervisor{}
	stack := supervisor.NewStack(zap.NewNop(), supervisor.Target{Supervisor: fake, Service: "POA"})

	probe := supervisor.NewProbe(srv.URL, zap.NewNop())
	probe.Attempts = 2
	probe.Interval = time.Millisecond

	envPath := filepath.Join(dir, ".env")
	record := filepath.Join(dir, "last_apply.json")
	orch := NewOrchestrator(store, backups, stack, probe, Options{
		EnvPath:        envPath,
		RecordPath:     record,
		RestartTimeout: 5 * time.Second,
	}, zap.NewNop())

	return &fixture{orch: orch, store: store, backups: backups, fake: fake, envPath: envPath, record: record}
}

func (f *fixture) saveValidDoc(t *testing.T, mutate func(*document.Document)) {
	t.Helper()
	doc := document.Default()
	doc.Security.Password = "operator-secret"
	if mutate != nil {
		mutate(doc)
	}
	require.NoError(t, f.store.Save(doc))
}

func TestApply_Success(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.saveValidDoc(t, nil)

	result, err := f.orch.Apply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Succeeded())
	assert.Equal(t, StageDone, result.Stage)
	assert.NotEmpty(t, result.BackupID)
	assert.NotEmpty(t, result.SnapshotHash)
	assert.False(t, result.RolledBack)
	assert.Equal(t, 1, f.fake.restartCount())

	env, err := os.ReadFile(f.envPath)
	require.NoError(t, err)
	assert.Contains(t, string(env), "PASSWORD=")
	assert.Contains(t, string(env), "PORT=80")

	metas, err := f.backups.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)

	last, err := LoadLastResult(f.record)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, StageDone, last.Stage)
}

func TestApply_ValidationFailureMutatesNothing(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	require.NoError(t, f.store.Save(document.Default()))

	result, err := f.orch.Apply(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageReported, result.Stage)
	assert.Equal(t, StageValidating, result.FailedStage)
	assert.NotEmpty(t, result.Violations)
	assert.Zero(t, f.fake.restartCount())
	assert.NoFileExists(t, f.envPath)

	metas, err := f.backups.List()
	require.NoError(t, err)
	assert.Empty(t, metas, "validation failures must not create backups")
}

func TestApply_RestartFailureRollsBackEnv(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.saveValidDoc(t, nil)

	result, err := f.orch.Apply(context.Background())
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	preApplyEnv, err := os.ReadFile(f.envPath)
	require.NoError(t, err)

	// edit the document, then make the apply-time restart fail; the
	// rollback-time restart succeeds
	f.saveValidDoc(t, func(doc *document.Document) {
		doc.System.Port = 8080
	})
	f.fake.failNext = 1

	result, err = f.orch.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, poaerrors.HasCategory(err, poaerrors.ErrorCategoryRestart))
	assert.Equal(t, StageFailed, result.Stage)
	assert.Equal(t, StageRequestingRestart, result.FailedStage)
	assert.True(t, result.RolledBack)
	assert.False(t, result.RollbackFailed)

	env, err := os.ReadFile(f.envPath)
	require.NoError(t, err)
	assert.Equal(t, preApplyEnv, env, "rollback must restore the pre-apply runtime representation byte for byte")

	doc, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, doc.System.Port,
		"the edited document stays on disk so the operator can fix and re-apply")
}

func TestApply_FirstApplyRollbackRemovesEnv(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.saveValidDoc(t, nil)
	f.fake.failNext = 1

	result, err := f.orch.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, result.RolledBack)
	assert.NoFileExists(t, f.envPath,
		"before the first apply there was no runtime representation, so rollback removes it")
}

func TestApply_RollbackFailureIsSurfaced(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.saveValidDoc(t, nil)
	f.fake.failNext = 2 // apply restart and rollback restart both refuse

	result, err := f.orch.Apply(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageFailed, result.Stage)
	assert.False(t, result.RolledBack)
	assert.True(t, result.RollbackFailed)
}

func TestApply_VerifyFailureRollsBack(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError)
	f.saveValidDoc(t, nil)

	result, err := f.orch.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, poaerrors.HasCategory(err, poaerrors.ErrorCategoryHealthCheck))
	assert.Equal(t, StageVerifying, result.FailedStage)
	assert.True(t, result.RolledBack)
}

func TestApply_ConcurrentApplyRefused(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.saveValidDoc(t, nil)

	release, err := f.store.AcquireApplyLock()
	require.NoError(t, err)
	defer release()

	result, err := f.orch.Apply(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, poaerrors.HasCategory(err, poaerrors.ErrorCategoryConcurrentApply))
}

func TestApply_Idempotent(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.saveValidDoc(t, nil)

	_, err := f.orch.Apply(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(f.envPath)
	require.NoError(t, err)

	_, err = f.orch.Apply(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(f.envPath)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-applying an unchanged document must be byte-identical")
}

func TestLoadLastResult_Missing(t *testing.T) {
	result, err := LoadLastResult(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, result)
}
