package bootstrap

import (
	"context"
	"os"
	"sync"
	"time"

	"skillswap_server/adapter/in/worker"
	"skillswap_server/adapter/out/messaging"
	"skillswap_server/config"
	"skillswap_server/core/service/outbox"
	"skillswap_server/core/service/reminder"
	"skillswap_server/pkg/clock"
	"skillswap_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker bundles the background loops: outbox dispatch, reminder delivery,
// meeting-link retry and the calendar mirror consumer.
type Worker struct {
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger

	dispatcher *outbox.Dispatcher
	processor  *reminder.Processor
	linkRetry  *worker.LinkRetryLoop
	consumer   *messaging.Consumer
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	clk := clock.NewSystem()
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	// Outbox dispatcher needs a stream to publish to.
	if deps.Producer != nil {
		w.dispatcher = outbox.NewDispatcher(deps.Uow, deps.Producer, deps.Archive, clk, outbox.DispatcherConfig{
			TickInterval: time.Duration(cfg.OutboxTickSec) * time.Second,
			BatchSize:    cfg.OutboxBatchSize,
		})
	} else {
		logger.Warn("Redis not available, outbox dispatcher disabled: events stay queued")
	}

	w.processor = reminder.NewProcessor(deps.Uow, deps.Notifier, clk, reminder.ProcessorConfig{
		TickInterval: time.Duration(cfg.ReminderTickSec) * time.Second,
		ClaimLimit:   cfg.ReminderClaimLimit,
		BacklogLimit: int64(cfg.ReminderBacklogLimit),
	})

	w.linkRetry = worker.NewLinkRetryLoop(deps.Uow, deps.SessionService, clk, worker.LinkRetryConfig{
		BaseDelay: time.Duration(cfg.MeetingLinkRetryBaseSec) * time.Second,
		CapDelay:  time.Duration(cfg.MeetingLinkRetryCapMin) * time.Minute,
	}, zlog)

	// Mirror consumer pushes appointment changes into linked calendars.
	if deps.Redis != nil {
		mirror := worker.NewMirrorWorker(deps.CalendarService, zlog)
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                "session-orchestrator",
			Consumer:             cfg.WorkerID,
			Streams:              []string{messaging.StreamAppointmentEvents},
			Handler:              mirror,
			Logger:               zlog,
			BatchSize:            cfg.ConsumerBatchSize,
			BlockTimeout:         time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	if w.dispatcher != nil {
		w.runLoop("outbox dispatcher", w.dispatcher.Run)
	}
	w.runLoop("reminder processor", func(ctx context.Context) { w.processor.Run(ctx) })
	w.runLoop("meeting link retry", func(ctx context.Context) { w.linkRetry.Run(ctx) })

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("starting calendar mirror consumer")
			if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
				w.zlog.Error().Err(err).Msg("mirror consumer stopped")
			}
		}()
	}

	<-w.ctx.Done()
}

func (w *Worker) runLoop(name string, run func(context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Str("loop", name).Msg("starting background loop")
		run(w.ctx)
	}()
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
