package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"groupwatch/config"
	"groupwatch/services/backup"
)

// Task names used for run tracking and logging.
const (
	taskBackup = "scheduled-backup"
	taskPrune  = "prune-pending"
)

const (
	// defaultCheckInterval is how often the loop wakes up to see whether a
	// task is due. Tasks themselves run far less often.
	defaultCheckInterval = 10 * time.Minute
	// pruneInterval spaces out pending-request sweeps. The retention window
	// itself comes from settings.
	pruneInterval = 6 * time.Hour
)

// Backups is the slice of the backup service the maintenance loop drives.
type Backups interface {
	CreateBackup(backupType backup.BackupType) (*backup.BackupInfo, error)
	ListBackups() ([]backup.BackupInfo, error)
	CleanupOldBackups(retentionCount int) (int, error)
}

// RequestPruner removes pending join requests untouched for longer than the
// given window.
type RequestPruner interface {
	PruneStalePending(olderThan time.Duration) (int, error)
}

// Service runs periodic maintenance: scheduled backups of the data directory
// and pruning of stale pending join requests. Intervals are read from the
// settings manager on every check, so changes apply without a restart.
type Service struct {
	configManager *config.Manager
	backups       Backups
	pruner        RequestPruner

	checkInterval time.Duration

	// Runtime state
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Task state tracking (in-memory, not persisted)
	taskMu      sync.Mutex
	taskRunning map[string]bool
	lastRun     map[string]time.Time
}

// NewService creates a maintenance service.
func NewService(configManager *config.Manager, backups Backups, pruner RequestPruner) *Service {
	return &Service{
		configManager: configManager,
		backups:       backups,
		pruner:        pruner,
		checkInterval: defaultCheckInterval,
		taskRunning:   make(map[string]bool),
		lastRun:       make(map[string]time.Time),
	}
}

// Start begins the maintenance background loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.maintenanceLoop()

	log.Println("[scheduler] Maintenance service started")
	return nil
}

// Stop gracefully stops the maintenance loop, waiting for any in-flight task
// to finish until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] Maintenance service stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] Maintenance service stopped (timeout)")
	}

	s.running = false
	return nil
}

func (s *Service) maintenanceLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Run a check immediately on start.
	s.runDueTasks()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDueTasks()
		}
	}
}

// runDueTasks reads the current settings and launches whichever tasks are
// due. Each task runs in its own goroutine so a slow backup never delays the
// prune sweep.
func (s *Service) runDueTasks() {
	settings := s.configManager.Get()

	if s.backupDue(settings) {
		s.launch(taskBackup, func() {
			s.runBackup(settings.BackupRetentionCount)
		})
	}
	if s.pruneDue(settings) {
		s.launch(taskPrune, func() {
			s.runPrune(settings.PrunePendingAfter())
		})
	}
}

// launch starts a named task unless the same task is still running.
func (s *Service) launch(name string, fn func()) {
	s.taskMu.Lock()
	if s.taskRunning[name] {
		s.taskMu.Unlock()
		return
	}
	s.taskRunning[name] = true
	s.taskMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.taskMu.Lock()
			delete(s.taskRunning, name)
			s.taskMu.Unlock()
		}()
		fn()
	}()
}

func (s *Service) backupDue(settings config.Settings) bool {
	interval := settings.BackupInterval()
	if interval <= 0 {
		return false
	}
	last := s.lastBackupTime()
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= interval
}

// lastBackupTime prefers the in-memory run marker and falls back to the
// newest backup on disk, so a restart does not trigger an immediate
// re-backup.
func (s *Service) lastBackupTime() time.Time {
	s.taskMu.Lock()
	last := s.lastRun[taskBackup]
	s.taskMu.Unlock()
	if !last.IsZero() {
		return last
	}

	backups, err := s.backups.ListBackups()
	if err != nil || len(backups) == 0 {
		return time.Time{}
	}
	// ListBackups sorts newest first.
	return backups[0].CreatedAt
}

func (s *Service) pruneDue(settings config.Settings) bool {
	if settings.PrunePendingAfter() <= 0 {
		return false
	}
	s.taskMu.Lock()
	last := s.lastRun[taskPrune]
	s.taskMu.Unlock()
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= pruneInterval
}

func (s *Service) markRun(name string) {
	s.taskMu.Lock()
	s.lastRun[name] = time.Now().UTC()
	s.taskMu.Unlock()
}

// runBackup creates a scheduled backup and then applies the retention count.
// The run marker advances even on failure so a broken backup target does not
// retry on every check.
func (s *Service) runBackup(retentionCount int) {
	defer s.markRun(taskBackup)

	info, err := s.backups.CreateBackup(backup.BackupTypeScheduled)
	if err != nil {
		log.Printf("[scheduler] Scheduled backup failed: %v", err)
		return
	}
	log.Printf("[scheduler] Scheduled backup created: %s", info.Filename)

	removed, err := s.backups.CleanupOldBackups(retentionCount)
	if err != nil {
		log.Printf("[scheduler] Backup cleanup failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[scheduler] Removed %d old backups", removed)
	}
}

func (s *Service) runPrune(window time.Duration) {
	defer s.markRun(taskPrune)

	removed, err := s.pruner.PruneStalePending(window)
	if err != nil {
		log.Printf("[scheduler] Pruning stale pending requests failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[scheduler] Pruned %d stale pending requests", removed)
	}
}
