// Package notify delivers status-change notifications to users' registered
// devices. Delivery is best effort: callers on the order and payment paths
// reach it through Queue or Forwarder, never directly.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tailorhub/internal/common/apperr"
	"tailorhub/internal/common/database"
	"tailorhub/internal/common/events"
)

// Config holds notification configuration
type Config struct {
	Workers    int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	QueueSize  int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	Timeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	PushURL    string        `envconfig:"NOTIFY_PUSH_URL"`
	PushAPIKey string        `envconfig:"NOTIFY_PUSH_API_KEY"`
	// Forward publishes notification requests to NATS for the notifier
	// process instead of delivering in-process.
	Forward bool `envconfig:"NOTIFY_FORWARD" default:"false"`
}

// Notifier sends one notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string) error
}

// Message is a push notification addressed to a device token.
type Message struct {
	Token string
	Title string
	Body  string
}

// Sender hands a message to the push transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Service looks up a user's delivery token and sends through a Sender.
type Service struct {
	tokens TokenStore
	sender Sender
	logger *slog.Logger
}

var _ Notifier = (*Service)(nil)

func NewService(tokens TokenStore, sender Sender, logger *slog.Logger) *Service {
	return &Service{tokens: tokens, sender: sender, logger: logger}
}

// Notify fails with apperr.ErrNoDeliveryToken when the user has no device.
func (s *Service) Notify(ctx context.Context, userID, title, body string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Validation("userId is required")
	}
	if strings.TrimSpace(title) == "" && strings.TrimSpace(body) == "" {
		return apperr.Validation("title or body is required")
	}

	token, err := s.tokens.Get(ctx, userID)
	if database.IsNotFound(err) {
		return fmt.Errorf("user %s: %w", userID, apperr.ErrNoDeliveryToken)
	}
	if err != nil {
		return apperr.FromContext(err)
	}

	if err := s.sender.Send(ctx, Message{Token: token, Title: title, Body: body}); err != nil {
		return apperr.FromContext(fmt.Errorf("sending to user %s: %w", userID, err))
	}

	s.logger.Debug("notification sent", "user_id", userID, "title", title)
	return nil
}

// RegisterToken records the device token a user's app registered.
func (s *Service) RegisterToken(ctx context.Context, userID, token string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Validation("userId is required")
	}
	if strings.TrimSpace(token) == "" {
		return apperr.Validation("token is required")
	}
	if err := s.tokens.Put(ctx, userID, token); err != nil {
		return apperr.FromContext(err)
	}
	s.logger.Info("device token registered", "user_id", userID)
	return nil
}

// HandleEvent delivers a notification.requested event. A user without a
// device is acknowledged, other failures are returned for redelivery.
func (s *Service) HandleEvent(ctx context.Context, evt *events.Event) error {
	if evt.Type != events.EventNotificationRequested {
		return nil
	}
	var data events.NotificationRequestedData
	if err := evt.DecodeData(&data); err != nil {
		s.logger.Error("dropping malformed notification request", "event_id", evt.ID, "error", err)
		return nil
	}
	err := s.Notify(ctx, data.UserID, data.Title, data.Body)
	if errors.Is(err, apperr.ErrNoDeliveryToken) || errors.Is(err, apperr.ErrValidation) {
		s.logger.Info("notification skipped", "event_id", evt.ID, "user_id", data.UserID, "reason", err)
		return nil
	}
	return err
}
