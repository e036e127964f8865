package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"festra/models"
	"festra/repositories"

	"golang.org/x/sync/errgroup"
)

// Notifier requests an outbound notification. Implementations must never
// block the caller on delivery: the business event already happened, so a
// delivery problem is logged, not returned.
type Notifier interface {
	Notify(ctx context.Context, recipientID int, template models.NotificationTemplate, data map[string]interface{})
}

type outboxNotifier struct {
	repo   repositories.NotificationRepository
	logger *slog.Logger
}

// NewOutboxNotifier returns a Notifier that appends to the notification
// outbox; the dispatcher delivers out of band.
func NewOutboxNotifier(repo repositories.NotificationRepository, logger *slog.Logger) Notifier {
	return &outboxNotifier{repo: repo, logger: logger}
}

func (n *outboxNotifier) Notify(ctx context.Context, recipientID int, template models.NotificationTemplate, data map[string]interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		n.logger.Error("failed to marshal notification payload",
			slog.String("template", string(template)), slog.Any("error", err))
		return
	}
	notification := &models.Notification{
		RecipientID: recipientID,
		Template:    template,
		Payload:     payload,
	}
	if err := n.repo.Enqueue(ctx, nil, notification); err != nil {
		n.logger.Error("failed to enqueue notification",
			slog.Int("recipient_id", recipientID),
			slog.String("template", string(template)),
			slog.Any("error", err))
	}
}

// EmailSender is the outbound delivery channel the dispatcher drains into.
type EmailSender interface {
	SendEmail(to []string, subject string, body string) error
}

// NotificationDispatcher drains the outbox in batches. Failed deliveries
// stay in the outbox and are retried on later passes.
type NotificationDispatcher struct {
	notifications repositories.NotificationRepository
	users         repositories.UserRepository
	sender        EmailSender
	logger        *slog.Logger

	batchSize int
	interval  time.Duration
}

func NewNotificationDispatcher(
	notifications repositories.NotificationRepository,
	users repositories.UserRepository,
	sender EmailSender,
	logger *slog.Logger,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		notifications: notifications,
		users:         users,
		sender:        sender,
		logger:        logger,
		batchSize:     50,
		interval:      15 * time.Second,
	}
}

// Run blocks until ctx is cancelled, dispatching one batch per tick.
func (d *NotificationDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.DispatchBatch(ctx); err != nil {
				d.logger.Error("notification dispatch pass failed", slog.Any("error", err))
			}
		}
	}
}

// DispatchBatch claims pending notifications and delivers them
// concurrently.
func (d *NotificationDispatcher) DispatchBatch(ctx context.Context) error {
	batch, err := d.notifications.ClaimPending(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim notifications: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, n := range batch {
		notification := n
		g.Go(func() error {
			d.deliver(gCtx, notification)
			return nil // delivery failures are recorded, not propagated
		})
	}
	return g.Wait()
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n *models.Notification) {
	recipient, err := d.users.GetByID(ctx, n.RecipientID)
	if err != nil {
		d.markFailed(ctx, n, fmt.Sprintf("recipient lookup: %v", err))
		return
	}

	subject, body := renderTemplate(n)
	if err := d.sender.SendEmail([]string{recipient.Email}, subject, body); err != nil {
		d.markFailed(ctx, n, err.Error())
		return
	}

	if err := d.notifications.MarkSent(ctx, n.ID); err != nil {
		d.logger.Error("failed to mark notification sent",
			slog.Int("notification_id", n.ID), slog.Any("error", err))
	}
}

func (d *NotificationDispatcher) markFailed(ctx context.Context, n *models.Notification, reason string) {
	d.logger.Warn("notification delivery failed",
		slog.Int("notification_id", n.ID),
		slog.String("template", string(n.Template)),
		slog.String("reason", reason))
	if err := d.notifications.MarkFailed(ctx, n.ID, reason); err != nil {
		d.logger.Error("failed to mark notification failed",
			slog.Int("notification_id", n.ID), slog.Any("error", err))
	}
}

func renderTemplate(n *models.Notification) (subject, body string) {
	var data map[string]interface{}
	_ = json.Unmarshal(n.Payload, &data)
	eventName, _ := data["event_name"].(string)

	switch n.Template {
	case models.TemplatePaymentRequired:
		return "Payment required: " + eventName,
			fmt.Sprintf("Your registration for %s is reserved. Upload your payment proof to confirm it.", eventName)
	case models.TemplateRegistrationConfirmed:
		ticket, _ := data["ticket_id"].(string)
		return "You're in: " + eventName,
			fmt.Sprintf("Your registration for %s is confirmed. Ticket: %s.", eventName, ticket)
	case models.TemplatePaymentRejected:
		return "Payment rejected: " + eventName,
			fmt.Sprintf("Your payment for %s was rejected. You can register again.", eventName)
	case models.TemplateProofUploaded:
		return "Payment proof uploaded: " + eventName,
			fmt.Sprintf("A participant uploaded a payment proof for %s. Review it in the dashboard.", eventName)
	case models.TemplateTeamCompleted:
		teamName, _ := data["team_name"].(string)
		return "Team complete: " + teamName,
			fmt.Sprintf("Your team %s for %s is complete. Tickets have been issued.", teamName, eventName)
	case models.TemplateRegistrationCancelled:
		return "Registration cancelled: " + eventName,
			fmt.Sprintf("Your registration for %s was cancelled.", eventName)
	default:
		return "Festival update", "You have a new update."
	}
}
