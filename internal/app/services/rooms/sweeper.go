package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/coin-shuffle/coordinator/internal/app/system"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper periodically times out rooms whose round deadline passed. On start
// it also resumes settlement for rooms interrupted mid-finalize.
type Sweeper struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a lifecycle-managed deadline sweeper.
func NewSweeper(service *Service, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("room-sweeper")
	}
	return &Sweeper{
		service:  service,
		log:      log,
		interval: interval,
	}
}

func (s *Sweeper) Name() string { return "room-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.service.Recover(runCtx); err != nil {
			s.log.WithError(err).Warn("settlement recovery failed")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("room sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("room sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := s.service.ExpireDeadlines(ctx)
	if err != nil {
		s.log.WithError(err).Warn("deadline sweep failed")
		return
	}
	if expired > 0 {
		s.log.WithField("expired", expired).Info("rooms timed out")
	}
}
