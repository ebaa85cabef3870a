package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weni-ai/conversation-ingestor/internal/config"
	"github.com/weni-ai/conversation-ingestor/internal/logging"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
)

// Processor handles one raw message and reports its Outcome. Pipeline
// satisfies this.
type Processor interface {
	Process(ctx context.Context, raw RawMessage) Outcome
}

// groupWorker serializes processing for a single message group: FIFO
// ordering within a group is a queue guarantee, but nothing stops the
// coordinator from fanning different groups out across goroutines, so each
// group gets its own single-goroutine mailbox.
type groupWorker struct {
	groupID string
	mailbox chan workItem
	done    chan struct{}
}

type workItem struct {
	raw    RawMessage
	result chan<- Outcome
}

func newGroupWorker(ctx context.Context, groupID string, bufferSize int, processor Processor, log *slog.Logger) *groupWorker {
	w := &groupWorker{
		groupID: groupID,
		mailbox: make(chan workItem, bufferSize),
		done:    make(chan struct{}),
	}
	go w.run(ctx, processor, log)
	return w
}

func (w *groupWorker) run(ctx context.Context, processor Processor, log *slog.Logger) {
	defer close(w.done)
	for item := range w.mailbox {
		outcome := processor.Process(ctx, item.raw)
		if outcome == Deferred {
			log.WarnContext(ctx, "message deferred for redelivery",
				slog.String("group_id", w.groupID), slog.String("message_id", item.raw.MessageID))
		}
		item.result <- outcome
	}
}

func (w *groupWorker) stop() {
	close(w.mailbox)
	<-w.done
}

// Coordinator is the per-group worker pool fed by a FIFO QueueClient. Each
// message group gets exactly one worker so per-group ordering is preserved
// even though distinct groups process concurrently.
type Coordinator struct {
	queue     QueueClient
	processor Processor
	metrics   *observability.Metrics
	log       *slog.Logger

	bufferSize int

	mu      sync.Mutex
	workers map[string]*groupWorker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdown config.ShutdownConfig
}

func NewCoordinator(queue QueueClient, processor Processor, metrics *observability.Metrics, cfg config.IngestionConfig, shutdown config.ShutdownConfig, log *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		queue:      queue,
		processor:  processor,
		metrics:    metrics,
		log:        log,
		bufferSize: cfg.WorkerGroupBufferSize,
		workers:    make(map[string]*groupWorker),
		ctx:        ctx,
		cancel:     cancel,
		shutdown:   shutdown,
	}
}

// Run polls the queue until ctx is cancelled, dispatching each received
// message to its group's worker and deleting everything whose Outcome says
// to.
func (c *Coordinator) Run(ctx context.Context) error {
	c.wg.Add(1)
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := time.Now()
		messages, err := c.queue.Receive(ctx)
		if c.metrics != nil {
			c.metrics.QueueReceiveDuration.WithLabelValues().Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "receive failed, backing off", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(messages) == 0 {
			continue
		}

		c.processBatch(ctx, messages)
	}
}

func (c *Coordinator) processBatch(ctx context.Context, messages []RawMessage) {
	results := make(chan taggedOutcome, len(messages))

	for _, raw := range messages {
		worker := c.workerFor(ctx, raw.GroupID)
		resultCh := make(chan Outcome, 1)
		worker.mailbox <- workItem{raw: raw, result: resultCh}
		go func(raw RawMessage, resultCh chan Outcome) {
			results <- taggedOutcome{raw: raw, outcome: <-resultCh}
		}(raw, resultCh)
	}

	var toDelete []string
	for i := 0; i < len(messages); i++ {
		t := <-results
		if c.metrics != nil {
			c.metrics.MessagesProcessedTotal.WithLabelValues(t.outcome.String()).Inc()
		}
		if t.outcome.ShouldDelete() {
			toDelete = append(toDelete, t.raw.ReceiptHandle)
		}
	}

	if len(toDelete) == 0 {
		return
	}
	if err := c.queue.DeleteBatch(ctx, toDelete); err != nil {
		c.log.ErrorContext(ctx, "delete batch failed", slog.String("error", err.Error()))
	}
}

type taggedOutcome struct {
	raw     RawMessage
	outcome Outcome
}

func (c *Coordinator) workerFor(ctx context.Context, groupID string) *groupWorker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.workers[groupID]; ok {
		return w
	}
	logger := logging.ContextLogger(ctx, c.log)
	if c.metrics != nil {
		c.metrics.GroupWorkersActive.Inc()
	}
	w := newGroupWorker(c.ctx, groupID, c.bufferSize, c.processor, logger)
	c.workers[groupID] = w
	return w
}

// Shutdown cancels the group workers' context, waits up to
// QueueDrainTimeout for the poll loop to return, then stops every group
// worker, waiting without a deadline for each to finish its queued items.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.shutdown.QueueDrainTimeout):
		c.log.WarnContext(ctx, "queue drain timeout exceeded during shutdown")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.workers {
		w.stop()
	}
}
