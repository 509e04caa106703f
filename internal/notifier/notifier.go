package notifier

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibeckermayer/modwatch/internal/config"
	"github.com/ibeckermayer/modwatch/internal/notifier/providers"
	"github.com/ibeckermayer/modwatch/internal/report"
)

// ErrNoRecipient is returned when a report has nowhere to go
var ErrNoRecipient = errors.New("no recipient address configured")

// Notifier delivers moderation reports
type Notifier struct {
	sender Sender
	to     string
	logger *slog.Logger
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a notifier that sends to the given address
func New(sender Sender, to string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, to: to, logger: logger}
}

// NewFromConfig creates a notifier based on configuration.
// It returns nil without error when email is disabled.
func NewFromConfig(cfg config.EmailConfig, logger *slog.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var sender Sender
	switch cfg.Provider {
	case "smtp", "":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender, cfg.ToAddr, logger), nil
}

// SendReport emails r to the configured recipient
func (n *Notifier) SendReport(r *report.Report) error {
	if n.to == "" {
		return ErrNoRecipient
	}
	if err := n.sender.Send(n.to, r.Subject, r.HTMLBody, r.PlainBody); err != nil {
		return fmt.Errorf("failed to send report for task %s: %w", r.TaskID, err)
	}
	n.logger.Info("report sent", "task_id", r.TaskID, "to", n.to, "flagged", r.Summary.HateCount)
	return nil
}
