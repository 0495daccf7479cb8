package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/nulzo/bot-router/internal/platform/metrics"
	"github.com/nulzo/bot-router/internal/store"
	"github.com/nulzo/bot-router/internal/store/model"
	"go.uber.org/zap"
)

// Ingestor handles the asynchronous persistence of usage logs.
type Ingestor interface {
	Log(entry *model.UsageLog)
	Start(ctx context.Context)
	// Stop drains the buffer and blocks until the last batch is written.
	Stop()
}

type IngestorConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultIngestorConfig() IngestorConfig {
	return IngestorConfig{BufferSize: 10000, BatchSize: 50, FlushInterval: 5 * time.Second}
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	logChan   chan *model.UsageLog
	batchSize int
	flushTime time.Duration

	// guards logChan against a send after Stop closed it
	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

func NewIngestor(logger *zap.Logger, repo store.Repository, cfg IngestorConfig) Ingestor {
	def := DefaultIngestorConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &ingestor{
		logger:    logger,
		repo:      repo,
		logChan:   make(chan *model.UsageLog, cfg.BufferSize),
		batchSize: cfg.BatchSize,
		flushTime: cfg.FlushInterval,
		done:      make(chan struct{}),
	}
}

// Log enqueues entry without blocking. Entries arriving while the buffer is
// full or after Stop are dropped.
func (i *ingestor) Log(entry *model.UsageLog) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.stopped {
		metrics.UsageLogsDropped.Inc()
		i.logger.Warn("Ingestor stopped, dropping usage log",
			zap.String("usage_id", entry.ID),
			zap.String("bot_id", entry.BotID),
		)
		return
	}

	select {
	case i.logChan <- entry:
	default:
		metrics.UsageLogsDropped.Inc()
		i.logger.Warn("Usage buffer full, dropping log",
			zap.String("usage_id", entry.ID),
			zap.String("bot_id", entry.BotID),
		)
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

func (i *ingestor) Stop() {
	i.mu.Lock()
	if !i.stopped {
		i.stopped = true
		close(i.logChan)
	}
	i.mu.Unlock()
	<-i.done
}

func (i *ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]*model.UsageLog, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		i.persist(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-i.logChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// pick up whatever is already buffered
			for {
				select {
				case entry, ok := <-i.logChan:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// persist writes a batch in one transaction, falling back to row by row
// inserts so one bad row does not lose the rest.
func (i *ingestor) persist(batch []*model.UsageLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := i.repo.WithTx(ctx, func(tx store.Repository) error {
		for _, entry := range batch {
			if err := tx.Usage().Create(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return
	}

	i.logger.Warn("Batch usage insert failed, retrying row by row", zap.Int("size", len(batch)), zap.Error(err))
	for _, entry := range batch {
		if err := i.repo.Usage().Create(ctx, entry); err != nil {
			i.logger.Error("Failed to persist usage log", zap.String("usage_id", entry.ID), zap.Error(err))
		}
	}
}
