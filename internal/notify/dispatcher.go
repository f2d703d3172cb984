package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tradewatch/alertd/internal/alert"
	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/model"
)

// enqueuer is the slice of asynq.Client the dispatcher uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Pusher sends best-effort push notifications. No queue, no retry.
type Pusher interface {
	Push(ctx context.Context, deviceToken string, details AlertDetails)
}

// Dispatcher enqueues notification jobs for alert transitions. It
// implements the engine's Notifier interface.
type Dispatcher struct {
	client enqueuer
	pusher Pusher
	cfg    config.NotifyConfig
	logger *slog.Logger
}

// NewDispatcher creates a notification dispatcher backed by the shared
// Redis instance.
func NewDispatcher(redisCfg config.RedisConfig, cfg config.NotifyConfig, pusher Pusher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	return &Dispatcher{client: client, pusher: pusher, cfg: cfg, logger: logger}
}

// NotifyTransition enqueues one job per enabled channel for the user.
// Enqueue failures are logged per alert; the state change stands.
func (d *Dispatcher) NotifyTransition(ctx context.Context, a *model.Alert, price float64, priority int) {
	if a.User == nil {
		return
	}

	queue := QueueDefault
	if priority == alert.PriorityTerminal {
		queue = QueueCritical
	}
	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(d.cfg.MaxRetry),
		asynq.Retention(d.cfg.Retention),
	}
	details := snapshot(a, price)

	if a.User.Email != "" {
		task, err := newTask(TypeEmail, a.User.Email, a.UserID, details)
		if err == nil {
			_, err = d.client.EnqueueContext(ctx, task, opts...)
		}
		if err != nil {
			d.logger.Error("failed to enqueue email notification",
				"alert_id", a.ID, "error", err)
		} else {
			metrics.NotificationsEnqueued.WithLabelValues("email").Inc()
		}
	}

	if a.User.TelegramEnabled && a.User.TelegramChatID != "" {
		task, err := newTask(TypeTelegram, a.User.TelegramChatID, a.UserID, details)
		if err == nil {
			_, err = d.client.EnqueueContext(ctx, task, opts...)
		}
		if err != nil {
			d.logger.Error("failed to enqueue telegram notification",
				"alert_id", a.ID, "error", err)
		} else {
			metrics.NotificationsEnqueued.WithLabelValues("telegram").Inc()
		}
	}

	if d.pusher != nil && a.User.DeviceToken != "" {
		token := a.User.DeviceToken
		go d.pusher.Push(context.WithoutCancel(ctx), token, details)
	}
}

// Close releases the queue client.
func (d *Dispatcher) Close() error {
	if c, ok := d.client.(*asynq.Client); ok {
		return c.Close()
	}
	return nil
}
