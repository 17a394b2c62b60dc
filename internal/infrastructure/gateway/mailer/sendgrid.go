// Package mailer sends transactional email through SendGrid.
package mailer

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends transactional email. Implementations must be safe for
// concurrent use.
type Mailer interface {
	SendWelcome(toEmail, toName string) error
	SendInvite(toEmail, orgName, inviterName string) error
}

// SendGridMailer is the production implementation
type SendGridMailer struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// NewSendGridMailer creates a mailer from SENDGRID_API_KEY. Returns nil
// (email disabled) when the key is absent so local development works
// without a SendGrid account.
func NewSendGridMailer() *SendGridMailer {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	if apiKey == "" {
		log.Println("⚠️ SENDGRID_API_KEY not set, email disabled")
		return nil
	}

	fromEmail := os.Getenv("MAIL_FROM_EMAIL")
	if fromEmail == "" {
		fromEmail = "no-reply@flowdesk.io"
	}
	fromName := os.Getenv("MAIL_FROM_NAME")
	if fromName == "" {
		fromName = "FlowDesk"
	}

	return &SendGridMailer{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// SendWelcome sends the post-signup welcome email
func (m *SendGridMailer) SendWelcome(toEmail, toName string) error {
	if m == nil {
		return nil
	}

	subject := "Welcome to FlowDesk"
	plain := fmt.Sprintf("Hi %s,\n\nYour FlowDesk workspace is ready. Connect your first integration to get started.\n", toName)
	html := fmt.Sprintf("<p>Hi %s,</p><p>Your FlowDesk workspace is ready. Connect your first integration to get started.</p>", toName)

	return m.send(toEmail, toName, subject, plain, html)
}

// SendInvite notifies a user they were added to an organization
func (m *SendGridMailer) SendInvite(toEmail, orgName, inviterName string) error {
	if m == nil {
		return nil
	}

	subject := fmt.Sprintf("You've been added to %s on FlowDesk", orgName)
	plain := fmt.Sprintf("%s added you to the organization %s on FlowDesk.\n", inviterName, orgName)
	html := fmt.Sprintf("<p>%s added you to the organization <strong>%s</strong> on FlowDesk.</p>", inviterName, orgName)

	return m.send(toEmail, "", subject, plain, html)
}

func (m *SendGridMailer) send(toEmail, toName, subject, plain, html string) error {
	from := mail.NewEmail(m.fromName, m.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plain, html)

	resp, err := m.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected email (status %d): %s", resp.StatusCode, resp.Body)
	}
	return nil
}
