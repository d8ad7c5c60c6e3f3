// Package email delivers the registry's transactional notifications:
// operator alerts for pending node registrations and decision notices to
// node contacts.
package email

import (
	"context"

	"go.uber.org/zap"
)

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NoopSender logs notifications instead of delivering them. Used in
// development and in standalone mode when SMTP is not configured.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the notification and returns nil.
func (n *NoopSender) Send(_ context.Context, to, subject, body string) error {
	n.logger.Info("notification (noop, not delivered)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
