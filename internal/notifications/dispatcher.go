// Package notifications turns provisioning events into queued emails
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/database"
	"github.com/openidx/scim-engine/internal/common/events"
)

// EmailQueue is the Redis list consumed by the mail delivery workers
const EmailQueue = "email:queue"

// RegistrationTemplate is the template rendered for pre-registered users
const RegistrationTemplate = "registration"

// EmailMessage is the queue payload understood by the delivery workers
type EmailMessage struct {
	To           string                 `json:"to"`
	Subject      string                 `json:"subject"`
	TemplateName string                 `json:"template_name"`
	Data         map[string]interface{} `json:"data"`
}

// Dispatcher enqueues a registration email for every pre-registered user
type Dispatcher struct {
	redis           *database.RedisClient
	registrationURL string
	logger          *zap.Logger
}

// NewDispatcher creates a dispatcher. registrationURL is where invitees
// complete their registration.
func NewDispatcher(redis *database.RedisClient, registrationURL string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		redis:           redis,
		registrationURL: registrationURL,
		logger:          logger.With(zap.String("component", "notifications")),
	}
}

// Register subscribes the dispatcher to the bus
func (d *Dispatcher) Register(bus events.Bus) *events.Subscription {
	return bus.Subscribe(events.EventUserPreRegistered, d.HandleEvent)
}

// HandleEvent enqueues the registration email of one pre-registered user.
// Users without an email address are skipped.
func (d *Dispatcher) HandleEvent(ctx context.Context, event events.Event) error {
	to, _ := event.Payload["email"].(string)
	userID, _ := event.Payload["id"].(string)
	if to == "" {
		d.logger.Warn("Pre-registered user has no email, skipping notification",
			zap.String("domain", event.Domain),
			zap.String("user_id", userID))
		return nil
	}

	link, err := d.registrationLink(event.Domain, userID)
	if err != nil {
		return err
	}

	msg := EmailMessage{
		To:           to,
		Subject:      "Complete your registration",
		TemplateName: RegistrationTemplate,
		Data: map[string]interface{}{
			"user_name":        event.Payload["name"],
			"display_name":     event.Payload["display_name"],
			"given_name":       event.Payload["given_name"],
			"domain":           event.Domain,
			"registration_url": link,
		},
	}
	return d.Enqueue(ctx, msg)
}

// Enqueue pushes a message onto the email queue
func (d *Dispatcher) Enqueue(ctx context.Context, msg EmailMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}

	if err := d.redis.Client.LPush(ctx, EmailQueue, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue email: %w", err)
	}

	d.logger.Info("Email enqueued",
		zap.String("to", msg.To),
		zap.String("template", msg.TemplateName))
	return nil
}

func (d *Dispatcher) registrationLink(domain, userID string) (string, error) {
	u, err := url.Parse(d.registrationURL)
	if err != nil {
		return "", fmt.Errorf("invalid registration url: %w", err)
	}
	q := u.Query()
	q.Set("domain", domain)
	q.Set("user", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
