package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/events"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AuditTask is one audit row waiting to be appended.
type AuditTask struct {
	EventType string                     `json:"event_type"`
	Payload   events.BookingEventPayload `json:"payload"`
	Attempt   int                        `json:"attempt"`
	CreatedAt time.Time                  `json:"created_at"`
}

// AuditWorker mirrors booking events into the audit sheet.
// Tasks go through Redis when a client is configured, otherwise an in-memory queue.
type AuditWorker struct {
	sheets        domain.AuditAppender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan AuditTask
	redisQueueKey string
	deadLetterKey string
	pollTimeout   time.Duration
	location      *time.Location
	logger        *zerolog.Logger
}

// NewAuditWorker builds a worker with sane defaults.
func NewAuditWorker(sheets domain.AuditAppender, redisClient *redis.Client, retry RetryPolicy, loc *time.Location, logger *zerolog.Logger) *AuditWorker {
	defaults := DefaultRetryPolicy()
	if retry.MaxRetries == 0 {
		retry.MaxRetries = defaults.MaxRetries
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = defaults.InitialDelay
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = defaults.MaxDelay
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = defaults.BackoffFactor
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &AuditWorker{
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan AuditTask, 256),
		redisQueueKey: "audit:queue",
		deadLetterKey: "audit:deadletter",
		pollTimeout:   time.Second,
		location:      loc,
		logger:        logger,
	}
}

// Subscribe registers the worker for every booking event on bus.
func (w *AuditWorker) Subscribe(bus *events.EventBus) {
	for _, eventType := range events.BookingEvents {
		bus.Subscribe(eventType, w.handleEvent)
	}
}

func (w *AuditWorker) handleEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		w.logger.Error().Err(err).Str("event", event.Type).Msg("audit: decode event")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return w.Enqueue(ctx, AuditTask{EventType: event.Type, Payload: payload, CreatedAt: event.CreatedAt})
}

// Enqueue schedules a task without blocking on the sheet itself.
func (w *AuditWorker) Enqueue(ctx context.Context, task AuditTask) error {
	if task.EventType == "" {
		return errors.New("event type is required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, w.redisQueueKey, task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Msg("audit: redis push failed, falling back to memory queue")
	}

	select {
	case w.queue <- task:
		return nil
	default:
		w.logger.Error().Str("event", task.EventType).Str("reference", task.Payload.Reference).Msg("audit: queue full, task dropped")
		return errors.New("audit queue full")
	}
}

// Start consumes tasks until ctx is done.
func (w *AuditWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("audit worker started")
	defer w.logger.Info().Msg("audit worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			w.processTask(ctx, t)
			continue
		default:
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, t)
			continue
		}

		if w.redis == nil {
			select {
			case <-ctx.Done():
				return
			case t := <-w.queue:
				w.processTask(ctx, t)
			}
		}
	}
}

func (w *AuditWorker) tryRedis(ctx context.Context) (AuditTask, bool) {
	if w.redis == nil {
		return AuditTask{}, false
	}
	res, err := w.redis.BRPop(ctx, w.pollTimeout, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("audit: redis BRPOP failed")
			time.Sleep(w.pollTimeout)
		}
		return AuditTask{}, false
	}
	if len(res) != 2 {
		return AuditTask{}, false
	}
	var task AuditTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("audit: decode redis task")
		return AuditTask{}, false
	}
	return task, true
}

func (w *AuditWorker) processTask(ctx context.Context, task AuditTask) {
	if err := w.sheets.AppendAuditRow(ctx, w.AuditRow(task)); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}
	w.logger.Debug().Str("event", task.EventType).Str("reference", task.Payload.Reference).Msg("audit row appended")
}

func (w *AuditWorker) retryOrFail(ctx context.Context, task AuditTask, cause error) {
	task.Attempt++
	log := w.logger.With().Str("event", task.EventType).Str("reference", task.Payload.Reference).Int("attempt", task.Attempt).Logger()

	if w.retryPolicy.Exhausted(task.Attempt) {
		log.Error().Err(cause).Msg("audit: giving up")
		w.pushDeadLetter(ctx, task)
		return
	}

	delay := w.retryPolicy.NextDelay(task.Attempt)
	log.Warn().Err(cause).Dur("retry_in", delay).Msg("audit: append failed")
	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Enqueue(ctx, task); err != nil {
			log.Error().Err(err).Msg("audit: requeue failed")
		}
	})
}

func (w *AuditWorker) pushRedis(ctx context.Context, key string, task AuditTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *AuditWorker) pushDeadLetter(ctx context.Context, task AuditTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Str("reference", task.Payload.Reference).Msg("audit: deadletter push failed")
	}
}

// AuditRow formats a task in AuditHeader column order.
func (w *AuditWorker) AuditRow(task AuditTask) []interface{} {
	p := task.Payload
	at := p.OccurredAt
	if at.IsZero() {
		at = task.CreatedAt
	}
	return []interface{}{
		at.In(w.location).Format("2006-01-02 15:04:05"),
		task.EventType,
		p.Reference,
		p.Status,
		p.RequesterName,
		p.RequesterEmail,
		p.MeetingDate,
		p.MeetingTime,
		strconv.Itoa(p.DurationMinutes),
		p.Purpose,
		p.CalendarEventID,
		p.Detail,
	}
}
