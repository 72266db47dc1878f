package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
)

// ProcessorConfig contains processor configuration.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	NumWorkers   int
}

// DefaultProcessorConfig returns default processor configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval: 60 * time.Second,
		BatchSize:    50,
		NumWorkers:   4,
	}
}

// Processor polls for due queue entries and feeds them through the dispatch
// service. Entries for distinct leads touch disjoint rows, so a bounded pool
// of workers may dispatch concurrently; the atomic claim in the repository is
// the only synchronization between them.
type Processor struct {
	config  ProcessorConfig
	repo    Repository
	service *Service

	stopCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

// NewProcessor creates a new queue processor.
func NewProcessor(config ProcessorConfig, repo Repository, service *Service) *Processor {
	return &Processor{
		config:  config,
		repo:    repo,
		service: service,
		stopCh:  make(chan struct{}),
		wakeCh:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Start launches the polling loop.
func (p *Processor) Start(ctx context.Context) {
	slog.Info("starting queue processor",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"workers", p.config.NumWorkers,
	)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop gracefully stops the processor. In-flight entries finish their
// dispatch; nothing is aborted mid-send.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	slog.Info("queue processor stopped")
}

// Wake triggers an immediate pass outside the poll schedule, used right after
// enrolling so zero-delay steps go out without waiting for the next tick.
func (p *Processor) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.wakeCh:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	p.ProcessDue(ctx)

	if stats, err := p.repo.Stats(ctx); err == nil {
		RecordQueueStats(stats)
	}
}

// ProcessDue runs one processing pass: fetch due entries, claim each one and
// dispatch the claimed ones through a bounded worker pool. Safe to call
// concurrently; the claim keeps every entry at exactly one worker.
func (p *Processor) ProcessDue(ctx context.Context) {
	entries, err := p.repo.FetchDue(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	slog.Debug("processing due entries", "count", len(entries))
	recordFetched(len(entries))

	workers := p.config.NumWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	// Cancelling the run context stops new claims, never work in flight: a
	// claimed entry always finishes its dispatch and ledger write, bounded
	// by the dispatch timeout.
	dispatchCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, entry := range entries {
		claimed, err := p.repo.Claim(ctx, entry.ID)
		if err != nil {
			slog.Error("failed to claim entry", "entry_id", entry.ID, "error", err)
			continue
		}
		if !claimed {
			// Another tick got it first.
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(e *domain.QueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.service.ProcessEntry(dispatchCtx, e); err != nil {
				slog.Error("entry bookkeeping failed", "entry_id", e.ID, "error", err)
			}
		}(entry)
	}
	wg.Wait()
}
