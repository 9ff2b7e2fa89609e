package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/gpuwatchhq/gpuwatch/internal/config"
	"github.com/gpuwatchhq/gpuwatch/pkg/types"
)

const (
	defaultMailTimeout = 30 * time.Second
	mailerName         = "gpuwatch"
)

// MailSettings describes the SMTPS account used for delivery.
type MailSettings struct {
	From     string
	Server   string
	Port     int
	Password string
	CAFile   string
	Timeout  time.Duration
}

// SettingsFor maps the mail section of the configuration to MailSettings.
func SettingsFor(m config.MailConfig) MailSettings {
	return MailSettings{
		From:     m.From,
		Server:   m.SMTPServer,
		Port:     m.SSLPort,
		Password: m.Password,
		CAFile:   m.CAFile,
	}
}

// MailSender delivers notifications over implicit-TLS SMTP with PLAIN auth.
// Settings are read on every send so reloaded credentials take effect on the
// next notification.
type MailSender struct {
	settings func() MailSettings
}

func NewMailSender(settings func() MailSettings) *MailSender {
	return &MailSender{settings: settings}
}

func (m *MailSender) Send(ctx context.Context, recipient string, n types.Notification) error {
	if m == nil || m.settings == nil {
		return errors.New("mail sender not configured")
	}
	settings := m.settings()

	msg, err := buildMessage(settings.From, recipient, n)
	if err != nil {
		return err
	}

	tlsConfig, err := LoadTLSConfig(settings.CAFile, settings.Server)
	if err != nil {
		return fmt.Errorf("mail tls config: %w", err)
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultMailTimeout
	}

	client, err := mail.NewClient(settings.Server,
		mail.WithPort(settings.Port),
		mail.WithSSL(),
		mail.WithTLSConfig(tlsConfig),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(settings.From),
		mail.WithPassword(settings.Password),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return fmt.Errorf("create mail client for %q: %w", settings.Server, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %q: %w", recipient, err)
	}
	return nil
}

func buildMessage(from, recipient string, n types.Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", from, err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", recipient, err)
	}
	msg.Subject(n.Subject)
	msg.SetGenHeader(mail.HeaderXMailer, mailerName)
	if !n.CreatedAt.IsZero() {
		msg.SetDateWithValue(n.CreatedAt)
	}
	msg.SetBodyString(mail.TypeTextPlain, n.Body)
	return msg, nil
}
