package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTransactionConfirmed signals a chain transaction reached confirmed.
	KindTransactionConfirmed = "chain.transaction_confirmed"
	// KindTransactionFailed signals a chain transaction reached failed.
	KindTransactionFailed = "chain.transaction_failed"
	// KindLowBalance signals a wallet balance dropped below the alert floor.
	KindLowBalance = "wallet.low_balance"
	// KindAuthorizationApproved signals an approved card authorization.
	KindAuthorizationApproved = "cards.authorization_approved"
	// KindFraudAlert signals a card authorization declined for suspected fraud.
	KindFraudAlert = "cards.fraud_alert"
)

// Message describes a notification payload. Destination is the user or
// address the event concerns.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems. Delivery is best
// effort: callers must never fail a business operation on a send error.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. It stands in
// for the event bus in dev mode and in tests.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
