package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/notify-dispatch/internal/pkg/ctxlog"
)

// SweeperConfig contains sweeper configuration.
type SweeperConfig struct {
	Interval time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: time.Minute,
	}
}

// Sweeper periodically sends scheduled deliveries that have become due.
// It is an in-process alternative to calling the process-scheduled endpoint
// from an external scheduler; both may run at once.
type Sweeper struct {
	config     SweeperConfig
	dispatcher *Dispatcher

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a new scheduled delivery sweeper.
func NewSweeper(config SweeperConfig, dispatcher *Dispatcher) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{
		config:     config,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("starting scheduled delivery sweeper",
		"interval", s.config.Interval,
		"batch_size", s.dispatcher.config.SweepBatchSize,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("scheduled delivery sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ctx = ctxlog.With(ctx, "component", "sweeper")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	outcomes, err := s.dispatcher.Sweep(ctx, s.dispatcher.now())
	if err != nil {
		ctxlog.FromContext(ctx).Error("scheduled delivery sweep failed", "error", err)
		return
	}
	if len(outcomes) > 0 {
		ctxlog.FromContext(ctx).Debug("sweep completed", "processed", len(outcomes))
	}
}
