package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/pkg/jobs"
)

const notificationJobType = "permit.transition.webhook"

// Notification delivery outcomes.
const (
	NotificationDelivered = "delivered"
	NotificationRetried   = "retried"
	NotificationDropped   = "dropped"
)

// NotificationConfig configures webhook delivery.
type NotificationConfig struct {
	WebhookURL string
	Timeout    time.Duration
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationService posts committed transitions to an external webhook from a worker pool.
type NotificationService struct {
	client  *resty.Client
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	url     string
}

// NewNotificationService builds the notifier. Call Start before queuing.
func NewNotificationService(cfg NotificationConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	svc := &NotificationService{client: client, metrics: metrics, logger: logger, url: cfg.WebhookURL}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnExhausted: func(job jobs.Job, err error) {
			metrics.RecordNotification(NotificationDropped)
		},
	})
	return svc
}

// Enabled reports whether a webhook URL is configured.
func (s *NotificationService) Enabled() bool {
	return s != nil && s.url != ""
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (s *NotificationService) Stop() {
	if !s.Enabled() {
		return
	}
	s.queue.Stop()
}

// NotifyTransition queues a webhook call without blocking the caller.
func (s *NotificationService) NotifyTransition(event models.TransitionEvent) error {
	if !s.Enabled() {
		return nil
	}
	err := s.queue.TryEnqueue(jobs.Job{
		ID:      fmt.Sprintf("%s:%s", event.ApplicationID, event.Action),
		Type:    notificationJobType,
		Payload: event,
	})
	if err != nil {
		s.metrics.RecordNotification(NotificationDropped)
	}
	return err
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.TransitionEvent)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Permit-Event", notificationJobType).
		SetBody(event).
		Post(s.url)
	if err != nil {
		s.metrics.RecordNotification(NotificationRetried)
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		s.metrics.RecordNotification(NotificationRetried)
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}
	s.metrics.RecordNotification(NotificationDelivered)
	s.logger.Debug("transition notification delivered",
		zap.String("application_id", event.ApplicationID),
		zap.String("action", event.Action),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}
