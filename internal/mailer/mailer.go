// Package mailer implements the notification collaborator: SendGrid for
// real deployments and a console logger for development.
package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// SendGrid sends verification emails through the SendGrid v3 API.
type SendGrid struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

// NewSendGrid builds a SendGrid-backed mailer.
func NewSendGrid(apiKey, fromName, fromAddr string) *SendGrid {
	return &SendGrid{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromAddr: fromAddr,
	}
}

// SendVerificationCode mails the code as an HTML message with a plain-text
// alternative.
func (s *SendGrid) SendVerificationCode(ctx context.Context, to, code string) error {
	from := sgmail.NewEmail(s.fromName, s.fromAddr)
	recipient := sgmail.NewEmail("", to)
	plain := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, codeValidMinutes)
	html, err := renderVerificationHTML(code)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	msg := sgmail.NewSingleEmail(from, "Verification Code", recipient, plain, html)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// Console logs codes instead of sending them; the dev default when no
// SendGrid key is configured.
type Console struct {
	log *zap.Logger
}

// NewConsole builds the console mailer.
func NewConsole(log *zap.Logger) *Console {
	return &Console{log: log}
}

// SendVerificationCode logs the code.
func (c *Console) SendVerificationCode(_ context.Context, to, code string) error {
	c.log.Info("verification code issued",
		zap.String("to", to),
		zap.String("code", code),
	)
	return nil
}
