package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/tradewatch/alertd/internal/config"
)

// UserDisabler clears a delivery channel on a user after a permanent
// failure.
type UserDisabler interface {
	DisableTelegram(ctx context.Context, userID int64) error
}

// Server consumes the notification queues. Critical jobs (terminal
// transitions) are weighted above default ones.
type Server struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// workers holds the handler state shared across queue consumers.
type workers struct {
	email     EmailSender
	chat      ChatSender
	users     UserDisabler
	emailRate *rate.Limiter
	chatRate  *rate.Limiter
	logger    *slog.Logger
}

// NewServer creates the notification queue consumer.
func NewServer(redisCfg config.RedisConfig, cfg config.NotifyConfig, email EmailSender, chat ChatSender, users UserDisabler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	retryBase := cfg.RetryBase
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return retryBase << n
			},
			Logger: slogAdapter{logger},
		},
	)

	w := &workers{
		email:     email,
		chat:      chat,
		users:     users,
		emailRate: rate.NewLimiter(rate.Limit(cfg.EmailPerSec), 1),
		chatRate:  rate.NewLimiter(rate.Limit(cfg.ChatPerSec), 1),
		logger:    logger,
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmail, w.handleEmail)
	mux.HandleFunc(TypeTelegram, w.handleTelegram)

	return &Server{srv: srv, mux: mux, logger: logger}
}

// Start begins consuming the queues.
func (s *Server) Start() error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("start notification server: %w", err)
	}
	s.logger.Info("notification workers started")
	return nil
}

// Stop shuts the consumer down. In-flight jobs finish; queued jobs stay in
// Redis until the next start.
func (s *Server) Stop() {
	s.srv.Shutdown()
	s.logger.Info("notification workers stopped")
}

func (w *workers) handleEmail(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("bad email payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.emailRate.Wait(ctx); err != nil {
		return err
	}

	subject := fmt.Sprintf("%s alert: %s", p.AlertDetails.TradingSymbol, p.AlertDetails.Status)
	if err := w.email.Send(ctx, p.Recipient, subject, emailBody(p.AlertDetails)); err != nil {
		if errors.Is(err, ErrRecipientInvalid) {
			w.logger.Warn("dropping email to invalid recipient", "recipient", p.Recipient)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (w *workers) handleTelegram(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("bad telegram payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.chatRate.Wait(ctx); err != nil {
		return err
	}

	if err := w.chat.Send(ctx, p.Recipient, chatText(p.AlertDetails)); err != nil {
		if errors.Is(err, ErrRecipientInvalid) {
			if derr := w.users.DisableTelegram(ctx, p.UserID); derr != nil {
				w.logger.Error("failed to disable telegram channel",
					"user_id", p.UserID, "error", derr)
			} else {
				w.logger.Warn("disabled telegram channel after permanent failure",
					"user_id", p.UserID)
			}
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func emailBody(d AlertDetails) string {
	return fmt.Sprintf(
		"Your %s alert on %s is now %s.\n\nCurrent price: %.2f\nEntry: %.2f\nStop loss: %.2f\nTarget: %.2f\nLevel: %d\nTriggered at: %s\n",
		d.Position, d.TradingSymbol, d.Status,
		d.CurrentPrice, d.EntryPrice, d.StopLoss, d.TargetPrice,
		d.Level, d.TriggeredAt.Format(time.RFC3339),
	)
}

func chatText(d AlertDetails) string {
	return fmt.Sprintf(
		"<b>%s</b> is now <b>%s</b>\nPrice: %.2f | Entry: %.2f | SL: %.2f | Target: %.2f",
		d.TradingSymbol, d.Status,
		d.CurrentPrice, d.EntryPrice, d.StopLoss, d.TargetPrice,
	)
}

// slogAdapter bridges asynq's logger to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.logger.Error(fmt.Sprint(args...)) }
