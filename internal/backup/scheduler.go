package backup

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/poa-ops/poactl/internal/document"
)

// Scheduler drives periodic snapshots from the document's backup.schedule
// cron expression and prunes to backup.retention_count after each run.
type Scheduler struct {
	manager *Manager
	store   *document.Store
	envPath string
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewScheduler creates a scheduler over the given store and manager.
func NewScheduler(manager *Manager, store *document.Store, envPath string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		manager: manager,
		store:   store,
		envPath: envPath,
		logger:  logger,
	}
}

// Start reads the schedule from the current document and begins running.
// An empty schedule is not an error; the scheduler simply stays idle.
func (s *Scheduler) Start() error {
	doc, err := s.store.Load()
	if err != nil {
		return err
	}
	if doc.Backup.Schedule == "" {
		s.logger.Info("scheduled backups disabled, no schedule configured")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(doc.Backup.Schedule, s.run); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("backup scheduler started", zap.String("schedule", doc.Backup.Schedule))
	return nil
}

// Stop halts the scheduler, waiting for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) run() {
	doc, err := s.store.Load()
	if err != nil {
		s.logger.Error("scheduled backup: load failed", zap.Error(err))
		return
	}
	meta, err := s.manager.Snapshot(doc, s.envPath)
	if err != nil {
		s.logger.Error("scheduled backup: snapshot failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled backup complete", zap.String("id", meta.ID))
	if _, err := s.manager.Prune(doc.Backup.RetentionCount); err != nil {
		s.logger.Error("scheduled backup: prune failed", zap.Error(err))
	}
}
