// Package notify avisa a los administradores cuando una cuenta nueva queda
// bloqueada esperando aprobación.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	texttpl "text/template"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
)

// Notifier es lo que usa el orquestador.
type Notifier interface {
	PendingApproval(ctx context.Context, a *repository.Account, providerID string) error
}

// Sender envía un mensaje de texto plano.
type Sender interface {
	Send(to []string, subject, body string) error
}

// Nop descarta todo. Se usa cuando no hay SMTP configurado.
type Nop struct{}

func (Nop) PendingApproval(context.Context, *repository.Account, string) error { return nil }

var pendingTpl = texttpl.Must(texttpl.New("pending_approval").Parse(
	`A new account was registered through {{.Provider}} and is awaiting approval.

Username: {{.Username}}
Email:    {{if .Email}}{{.Email}}{{else}}(none){{end}}
Account:  {{.AccountID}}
`))

// AdminNotifier arma el mensaje y lo manda a la lista de admins.
type AdminNotifier struct {
	Sender Sender
	Admins []string
}

func (n *AdminNotifier) PendingApproval(ctx context.Context, a *repository.Account, providerID string) error {
	if len(n.Admins) == 0 {
		return nil
	}
	var body bytes.Buffer
	err := pendingTpl.Execute(&body, map[string]string{
		"Provider":  providerID,
		"Username":  a.Username,
		"Email":     a.Email,
		"AccountID": a.ID,
	})
	if err != nil {
		return fmt.Errorf("notify: render: %w", err)
	}
	subject := fmt.Sprintf("Account %s awaiting approval", a.Username)
	if err := n.Sender.Send(n.Admins, subject, body.String()); err != nil {
		logger.From(ctx).Warn("pending approval notification failed",
			logger.Component("notify"), logger.AccountID(a.ID), logger.Err(err))
		return err
	}
	return nil
}

// SMTPSender implementa Sender con go-mail.
type SMTPSender struct {
	Host string
	Port int
	From string
	User string
	Pass string
	// SSL usa TLS implícito (465). Si no, go-mail negocia STARTTLS.
	SSL bool
}

func (s *SMTPSender) Send(to []string, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host}
	d.SSL = s.SSL

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	logger.L().Info("email sent",
		logger.Component("notify"), logger.String("host", s.Host), logger.Int("recipients", len(to)))
	return nil
}

// SMTPConfig es el subconjunto de config.SMTP que hace falta.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Admins   []string
}

// New retorna Nop si no hay host o admins.
func New(cfg SMTPConfig) Notifier {
	if cfg.Host == "" || len(cfg.Admins) == 0 {
		return Nop{}
	}
	return &AdminNotifier{
		Sender: &SMTPSender{
			Host: cfg.Host,
			Port: cfg.Port,
			From: cfg.From,
			User: cfg.Username,
			Pass: cfg.Password,
			SSL:  cfg.Port == 465,
		},
		Admins: cfg.Admins,
	}
}
