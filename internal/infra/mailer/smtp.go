package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"storefront-orders/internal/config"

	"github.com/wneessen/go-mail"
)

const defaultAttemptTimeout = 15 * time.Second

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPSender delivers HTML mail, retrying transient failures a bounded number
// of times with linear backoff. Every attempt is bounded by ctx and by
// attemptTimeout, including a server that accepts and never answers.
type SMTPSender struct {
	cfg            config.SMTP
	from           string
	maxAttempts    int
	backoff        time.Duration
	attemptTimeout time.Duration
	send           sendFunc
}

func NewSMTPSender(c config.SMTP) *SMTPSender {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	s := &SMTPSender{
		cfg:            c,
		from:           c.From,
		maxAttempts:    attempts,
		backoff:        c.Backoff,
		attemptTimeout: defaultAttemptTimeout,
	}
	s.send = s.dialAndSend
	return s
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg, err := s.message(to, subject, htmlBody)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = s.attempt(ctx, msg); err == nil {
			slog.InfoContext(ctx, "mail sent", "to", to, "subject", subject, "attempt", attempt)
			return nil
		}
		slog.WarnContext(ctx, "mail send failed", "to", to, "attempt", attempt, "max_attempts", s.maxAttempts, "error", err)
		if ctx.Err() != nil {
			return fmt.Errorf("send mail to %s: %w", to, ctx.Err())
		}
		if attempt == s.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("send mail to %s: %w", to, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("send mail to %s after %d attempts: %w", to, s.maxAttempts, err)
}

func (s *SMTPSender) attempt(ctx context.Context, msg *mail.Msg) error {
	ctx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()
	return s.send(ctx, msg)
}

func (s *SMTPSender) message(to, subject, htmlBody string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("mail from %q: %w", s.from, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("mail to %q: %w", to, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, htmlBody)
	return m, nil
}

func (s *SMTPSender) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.attemptTimeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(boundDialer(ctx)),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// boundDialer ties the connection to ctx: it is closed when ctx ends, which
// unblocks a read on a server that never greets. The client's own dial
// context is released after connecting, so the attempt ctx is captured here.
func boundDialer(ctx context.Context) mail.DialContextFunc {
	return func(dialCtx context.Context, network, address string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, address)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		context.AfterFunc(ctx, func() { _ = conn.Close() })
		return conn, nil
	}
}
