package email

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-mail/mail/v2"
	"go.uber.org/zap"
)

const sendAttempts = 3

type SMTPClient struct {
	dialer   *mail.Dialer
	from     string
	linkBase string
	log      *zap.Logger
}

func NewSMTPClient(log *zap.Logger, host string, port int, username, password, from, linkBase string) *SMTPClient {
	dialer := mail.NewDialer(host, port, username, password)
	dialer.Timeout = 30 * time.Second

	switch port {
	case 587:
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
	case 465:
		dialer.SSL = true
		dialer.StartTLSPolicy = mail.NoStartTLS
	default:
		dialer.StartTLSPolicy = mail.OpportunisticStartTLS
	}

	return &SMTPClient{
		dialer:   dialer,
		from:     from,
		linkBase: linkBase,
		log:      log.With(zap.String("component", "smtp")),
	}
}

// SendPasswordReset mails the reset link, retrying with a linear backoff
// until ctx is done.
func (s *SMTPClient) SendPasswordReset(ctx context.Context, to, token string) error {
	msg := passwordResetMessage(s.from, to, ResetLink(s.linkBase, token))

	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = s.dialer.DialAndSend(msg); err == nil {
			s.log.Info("password reset mail sent", zap.Int("attempt", attempt))
			return nil
		}

		s.log.Warn("smtp send failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == sendAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	return fmt.Errorf("failed to send email after %d attempts: %w", sendAttempts, err)
}

// ResetLink appends the token as a query parameter to base.
func ResetLink(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func passwordResetMessage(from, to, link string) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Reset your password")

	msg.SetBody("text/plain", fmt.Sprintf(
		"Open the link below to choose a new password:\n%s\n\nThe link is valid for one hour and can be used once.\nIf you did not ask for this, ignore this mail.",
		link,
	))

	msg.AddAlternative("text/html", fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><meta charset="utf-8"></head>
		<body style="font-family: Arial, sans-serif; color: #333; line-height: 1.6;">
			<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
				<h1>Reset your password</h1>
				<p>Open the link below to choose a new password.</p>
				<p><a href="%s">Reset password</a></p>
				<p><strong>The link is valid for one hour and can be used once.</strong></p>
				<p style="font-size: 12px; color: #6b7280;">If you did not ask for this, ignore this mail.</p>
			</div>
		</body>
		</html>
	`, link))

	return msg
}

// LogNotifier stands in for SMTP when no server is configured. It never logs
// the token itself.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(zap.String("component", "mail"))}
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, to, _ string) error {
	n.log.Info("smtp disabled, password reset mail not sent", zap.String("to", to))
	return nil
}
