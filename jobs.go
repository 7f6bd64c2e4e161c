package mfgauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ==================== BACKGROUND JOBS ====================

// BackgroundJobs manages the async email workers and the expired-token
// cleanup loop.
type BackgroundJobs struct {
	svc     *AuthService
	emailCh chan emailJob
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

type emailJob struct {
	jobType string // "password_reset", "security_alert"
	to      string
	data    map[string]string
}

// StartBackgroundJobs starts all background workers.
// Call this after creating the AuthService.
func (s *AuthService) StartBackgroundJobs(opts ...JobOption) *BackgroundJobs {
	cfg := &jobConfig{
		emailWorkers:    3,
		emailQueueSize:  1000,
		cleanupInterval: 1 * time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jobs := &BackgroundJobs{
		svc:     s,
		emailCh: make(chan emailJob, cfg.emailQueueSize),
		stopCh:  make(chan struct{}),
		running: true,
	}

	for i := 0; i < cfg.emailWorkers; i++ {
		jobs.wg.Add(1)
		go jobs.emailWorker()
	}

	jobs.wg.Add(1)
	go jobs.cleanupWorker(cfg.cleanupInterval)

	s.jobs = jobs
	s.logger.Info("background jobs started",
		zap.Int("email_workers", cfg.emailWorkers),
		zap.Duration("cleanup_interval", cfg.cleanupInterval))

	return jobs
}

// Stop gracefully stops all background workers.
func (j *BackgroundJobs) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopCh)

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueEmail queues an email for async sending.
func (j *BackgroundJobs) QueueEmail(jobType, to string, data map[string]string) bool {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return false
	}
	j.mu.Unlock()

	select {
	case j.emailCh <- emailJob{jobType: jobType, to: to, data: data}:
		return true
	default:
		// Queue full
		j.svc.logger.Warn("email queue full, dropping email",
			zap.String("type", jobType))
		return false
	}
}

func (j *BackgroundJobs) emailWorker() {
	defer j.wg.Done()

	for {
		select {
		case <-j.stopCh:
			// Drain remaining emails before stopping
			for {
				select {
				case job := <-j.emailCh:
					j.processEmail(job)
				default:
					return
				}
			}
		case job := <-j.emailCh:
			j.processEmail(job)
		}
	}
}

func (j *BackgroundJobs) processEmail(job emailJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch job.jobType {
	case "password_reset":
		err = j.svc.mailer.SendPasswordReset(ctx, job.to, job.data["link"])
	case "security_alert":
		err = j.svc.mailer.SendSecurityAlert(ctx, job.to, job.data["subject"], job.data["body"])
	}

	if err != nil {
		j.svc.logger.Error("email send failed",
			zap.String("type", job.jobType),
			zap.Error(err))
	}
}

func (j *BackgroundJobs) cleanupWorker(interval time.Duration) {
	defer j.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on start
	j.runCleanup()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.runCleanup()
		}
	}
}

func (j *BackgroundJobs) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := j.svc.store.RefreshTokens().DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		j.svc.logger.Error("token cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		j.svc.logger.Info("cleaned up expired refresh tokens", zap.Int("deleted", deleted))
	}
}

// sendPasswordResetEmail prefers the async queue when jobs are running and
// falls back to a synchronous send otherwise.
func (s *AuthService) sendPasswordResetEmail(ctx context.Context, to, link string) {
	if s.jobs != nil && s.jobs.QueueEmail("password_reset", to, map[string]string{"link": link}) {
		return
	}
	if err := s.mailer.SendPasswordReset(ctx, to, link); err != nil {
		s.logger.Error("password reset email failed", zap.Error(err))
	}
}

// ==================== JOB OPTIONS ====================

type jobConfig struct {
	emailWorkers    int
	emailQueueSize  int
	cleanupInterval time.Duration
}

// JobOption configures background jobs.
type JobOption func(*jobConfig)

// WithEmailWorkers sets the number of email worker goroutines.
func WithEmailWorkers(n int) JobOption {
	return func(c *jobConfig) {
		if n > 0 {
			c.emailWorkers = n
		}
	}
}

// WithEmailQueueSize sets the email queue buffer size.
func WithEmailQueueSize(n int) JobOption {
	return func(c *jobConfig) {
		if n > 0 {
			c.emailQueueSize = n
		}
	}
}

// WithCleanupInterval sets how often cleanup runs.
func WithCleanupInterval(d time.Duration) JobOption {
	return func(c *jobConfig) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}
