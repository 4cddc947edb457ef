package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"time"

	"go.uber.org/zap"
)

// SMTPConfig holds SMTP server settings. Gmail works with host
// smtp.gmail.com, port 587 and an app password.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers email through an SMTP relay as multipart/alternative
// (plain text plus HTML).
type SMTPSender struct {
	config   SMTPConfig
	sendMail sendMailFunc
	logger   *zap.Logger
}

// NewSMTPSender creates a new SMTP email sender.
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) *SMTPSender {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{
		config:   cfg,
		sendMail: smtp.SendMail,
		logger:   logger,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("smtp sender only supports email, got: %s", msg.Channel)
	}
	if msg.Recipient == "" {
		return fmt.Errorf("email recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := buildMIME(s.config.From, msg, time.Now())
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := s.sendMail(addr, auth, s.config.From, []string{msg.Recipient}, body); err != nil {
		if recipientRefused(err) {
			return fmt.Errorf("%w: smtp send failed: %w", ErrPermanent, err)
		}
		return fmt.Errorf("smtp send failed: %w", err)
	}

	s.logger.Info("email sent via smtp",
		zap.String("to", msg.Recipient),
		zap.String("key", msg.Key),
	)

	return nil
}

func (s *SMTPSender) SupportsChannel(channel string) bool {
	return channel == ChannelEmail
}

// recipientRefused reports replies that reject the mailbox rather than the
// session: unknown user, relay denied, mailbox full, bad address syntax.
// Authentication and other 5xx replies still count against the relay.
func recipientRefused(err error) bool {
	var reply *textproto.Error
	if !errors.As(err, &reply) {
		return false
	}
	switch reply.Code {
	case 501, 550, 551, 552, 553:
		return true
	}
	return false
}

func buildMIME(from string, msg *Message, date time.Time) ([]byte, error) {
	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := text.Write([]byte(msg.Text)); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}

	if msg.HTML != "" {
		html, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/html; charset=UTF-8"},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("create html part: %w", err)
		}
		if _, err := html.Write([]byte(msg.HTML)); err != nil {
			return nil, fmt.Errorf("write html part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", date.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(parts.Bytes())

	return out.Bytes(), nil
}
