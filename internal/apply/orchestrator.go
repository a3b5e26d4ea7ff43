package apply

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
	poaerrors "github.com/poa-ops/poactl/internal/errors"
	"github.com/poa-ops/poactl/internal/monitoring"
	"github.com/poa-ops/poactl/internal/rules"
	"github.com/poa-ops/poactl/internal/runtime"
	"github.com/poa-ops/poactl/internal/supervisor"
)

// Stage names one state of the apply pipeline. Failures are tagged with the
// stage they occurred in so the operator always knows how far an apply got.
type Stage string

const (
	StageValidating        Stage = "validating"
	StageTranslating       Stage = "translating"
	StageBackingUp         Stage = "backing_up"
	StageWriting           Stage = "writing"
	StageRequestingRestart Stage = "requesting_restart"
	StageVerifying         Stage = "verifying"
	StageRollingBack       Stage = "rolling_back"

	// Terminal stages
	StageDone     Stage = "done"
	StageReported Stage = "reported"
	StageFailed   Stage = "failed"
)

// Result is the record of one apply run. It is persisted beside the backups
// so the status reporter can show the last outcome without re-running
// anything.
type Result struct {
	Stage          Stage             `json:"stage"`
	FailedStage    Stage             `json:"failed_stage,omitempty"`
	Error          string            `json:"error,omitempty"`
	Violations     []rules.Violation `json:"violations,omitempty"`
	BackupID       string            `json:"backup_id,omitempty"`
	SnapshotHash   string            `json:"snapshot_hash,omitempty"`
	RolledBack     bool              `json:"rolled_back,omitempty"`
	RollbackFailed bool              `json:"rollback_failed,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Succeeded reports whether the apply reached Done.
func (r *Result) Succeeded() bool {
	return r.Stage == StageDone
}

// Options carries the pipeline's fixed paths and timeouts.
type Options struct {
	EnvPath        string
	RecordPath     string
	RestartTimeout time.Duration
}

// Orchestrator coordinates the validate → translate → backup → write →
// restart → verify pipeline with rollback on any failure from the backup
// stage onward. Exactly one apply may be in flight at a time.
type Orchestrator struct {
	store      *document.Store
	validator  *rules.Validator
	translator *runtime.Translator
	backups    *backup.Manager
	restarts   *supervisor.Stack
	probe      *supervisor.Probe
	opts       Options
	logger     *zap.Logger
	inFlight   atomic.Bool
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(store *document.Store, backups *backup.Manager, restarts *supervisor.Stack,
	probe *supervisor.Probe, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RestartTimeout <= 0 {
		opts.RestartTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:      store,
		validator:  rules.NewValidator(),
		translator: runtime.NewTranslator(),
		backups:    backups,
		restarts:   restarts,
		probe:      probe,
		opts:       opts,
		logger:     logger,
	}
}

// Apply runs the full pipeline. The returned Result is always non-nil and
// already persisted; the error carries the stage-tagged failure, if any.
// Once the writing stage has begun the pipeline runs to a terminal state
// even if ctx is cancelled, so document and runtime representation can never
// be left out of sync.
func (o *Orchestrator) Apply(ctx context.Context) (*Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, poaerrors.NewConcurrentApplyError("orchestrator")
	}
	defer o.inFlight.Store(false)

	release, err := o.store.AcquireApplyLock()
	if err != nil {
		return nil, err
	}
	defer release()

	result := &Result{StartedAt: time.Now().UTC()}
	err = o.run(ctx, result)
	result.FinishedAt = time.Now().UTC()
	monitoring.RecordApply(string(result.Stage), result.FinishedAt.Sub(result.StartedAt))
	o.record(result)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, result *Result) error {
	// Validating: nothing has been mutated, so a failure here is reported
	// and the pipeline simply stops.
	result.Stage = StageValidating
	doc, err := o.store.Load()
	if err != nil {
		result.Stage = StageReported
		result.FailedStage = StageValidating
		result.Error = err.Error()
		return err
	}
	validation := o.validator.Validate(doc)
	monitoring.RecordValidation(len(validation.Violations))
	if !validation.Valid() {
		result.Stage = StageReported
		result.FailedStage = StageValidating
		result.Violations = validation.Violations
		return poaerrors.NewConfigError(poaerrors.ErrorCategoryValidation, "orchestrator", "apply",
			validation.Summary())
	}

	// Translating: a failure here is a programming error (the document just
	// validated), fatal and never retried.
	result.Stage = StageTranslating
	snapshot, err := o.translator.Translate(doc)
	if err != nil {
		result.Stage = StageFailed
		result.FailedStage = StageTranslating
		result.Error = err.Error()
		return err
	}
	result.SnapshotHash = snapshot.SourceHash

	// BackingUp: the snapshot must be durable before any destructive write.
	// A failure here aborts the apply with nothing to roll back.
	result.Stage = StageBackingUp
	meta, err := o.backups.Snapshot(doc, o.opts.EnvPath)
	if err != nil {
		result.Stage = StageFailed
		result.FailedStage = StageBackingUp
		result.Error = err.Error()
		return err
	}
	result.BackupID = meta.ID
	monitoring.RecordBackup()

	// From here on every failure rolls back to the backup just taken.
	result.Stage = StageWriting
	if err := snapshot.Write(o.opts.EnvPath); err != nil {
		return o.fail(result, StageWriting, meta, err)
	}

	result.Stage = StageRequestingRestart
	restartCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RestartTimeout)
	err = o.restarts.RestartAll(restartCtx)
	cancel()
	if err != nil {
		return o.fail(result, StageRequestingRestart, meta, err)
	}

	result.Stage = StageVerifying
	if err := o.probe.Wait(context.WithoutCancel(ctx)); err != nil {
		return o.fail(result, StageVerifying, meta, err)
	}

	if _, err := o.backups.Prune(doc.Backup.RetentionCount); err != nil {
		// Retention is housekeeping; a prune failure must not fail an apply
		// that is already live.
		o.logger.Warn("backup prune failed", zap.Error(err))
	}

	result.Stage = StageDone
	o.logger.Info("apply complete",
		zap.String("backup_id", meta.ID),
		zap.String("snapshot_hash", snapshot.SourceHash))
	return nil
}

// fail records the failed stage, rolls back to the given backup and leaves
// the pipeline in the Failed terminal state. The rollback outcome is always
// surfaced: a failed rollback means manual intervention and must never be
// swallowed.
func (o *Orchestrator) fail(result *Result, at Stage, meta backup.Meta, cause error) error {
	o.logger.Error("apply failed, rolling back",
		zap.String("stage", string(at)),
		zap.String("backup_id", meta.ID),
		zap.Error(cause))

	result.Stage = StageRollingBack
	result.FailedStage = at
	result.Error = cause.Error()

	rollbackErr := o.rollback(meta)
	result.Stage = StageFailed
	result.RolledBack = rollbackErr == nil
	if rollbackErr != nil {
		result.RollbackFailed = true
		monitoring.RecordRollback("failure")
		o.logger.Error("rollback failed, manual intervention required",
			zap.String("backup_id", meta.ID),
			zap.Error(rollbackErr))
		return poaerrors.WrapError(rollbackErr, poaerrors.ErrorCategoryIO, "orchestrator", "rollback")
	}
	monitoring.RecordRollback("success")
	return cause
}

// rollback restores the document and the runtime representation captured in
// the backup, then asks the supervisors to restart onto the restored state.
func (o *Orchestrator) rollback(meta backup.Meta) error {
	doc, err := o.backups.Restore(meta.ID)
	if err != nil {
		return err
	}
	if err := o.store.Save(doc); err != nil {
		return err
	}

	if meta.HasEnv {
		envData, err := o.backups.RestoreEnv(meta.ID)
		if err != nil {
			return err
		}
		if err := document.AtomicWriteFile(o.opts.EnvPath, envData, 0o600); err != nil {
			return err
		}
	} else {
		// First apply: there was no runtime representation before, so the
		// pre-apply state is its absence.
		if err := os.Remove(o.opts.EnvPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	restartCtx, cancel := context.WithTimeout(context.Background(), o.opts.RestartTimeout)
	defer cancel()
	if err := o.restarts.RestartAll(restartCtx); err != nil {
		return err
	}
	return nil
}

// record persists the result for the status reporter. A record write failure
// is logged, not fatal: the apply outcome stands either way.
func (o *Orchestrator) record(result *Result) {
	if o.opts.RecordPath == "" {
		return
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		o.logger.Warn("could not marshal apply record", zap.Error(err))
		return
	}
	if err := document.AtomicWriteFile(o.opts.RecordPath, data, 0o600); err != nil {
		o.logger.Warn("could not persist apply record", zap.Error(err))
	}
}

// LoadLastResult reads the persisted record of the most recent apply.
func LoadLastResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, poaerrors.NewIOError("apply", "load_record", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, poaerrors.NewParseError("apply", err)
	}
	return &result, nil
}
