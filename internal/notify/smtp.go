package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
)

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTPSender builds MIME messages with go-message and submits them with
// go-smtp. PLAIN auth is used when a user is configured.
type SMTPSender struct {
	addr     string
	from     *mail.Address
	user     string
	password string
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPSender parses the From address and returns a sender for addr.
func NewSMTPSender(addr, from, user, password string) (*SMTPSender, error) {
	f, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address: %w", err)
	}
	return &SMTPSender{
		addr:     addr,
		from:     f,
		user:     user,
		password: password,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, id, err := s.build(msg)
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}
	var auth sasl.Client
	if s.user != "" {
		auth = sasl.NewPlainClient("", s.user, s.password)
	}
	if err := s.sendMail(s.addr, auth, s.from.Address, msg.To, bytes.NewReader(raw)); err != nil {
		return "", apperr.External("send email", err)
	}
	return id, nil
}

func (s *SMTPSender) build(msg Message) ([]byte, string, error) {
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{s.from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", err
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", err
	}
	if err := writePart(iw, "text/plain", msg.Text); err != nil {
		return nil, "", err
	}
	if msg.HTML != "" {
		if err := writePart(iw, "text/html", msg.HTML); err != nil {
			return nil, "", err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), id, nil
}

func writePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}
