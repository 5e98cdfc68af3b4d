package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"

	"ftc-tickets/models"
)

// MailNotifier sends ticket confirmations through the app's configured SMTP
// settings. A multi-ticket order gets one consolidated email.
type MailNotifier struct {
	app core.App

	eventName     string
	eventDate     string
	eventLocation string
}

func NewMailNotifier(app core.App, eventName, eventDate, eventLocation string) *MailNotifier {
	return &MailNotifier{
		app:           app,
		eventName:     eventName,
		eventDate:     eventDate,
		eventLocation: eventLocation,
	}
}

// SendTickets emails the buyer every ticket of the group in one message.
func (n *MailNotifier) SendTickets(ctx context.Context, units []*models.TicketUnit) error {
	if len(units) == 0 {
		return nil
	}

	first := units[0]
	subject := fmt.Sprintf("Your %s tickets are confirmed", n.eventName)
	if len(units) == 1 {
		subject = fmt.Sprintf("Your %s ticket is confirmed", n.eventName)
	}

	message := &mailer.Message{
		From: mail.Address{
			Address: n.app.Settings().Meta.SenderAddress,
			Name:    n.app.Settings().Meta.SenderName,
		},
		To:      []mail.Address{{Address: first.Email, Name: first.Name}},
		Subject: subject,
		HTML:    n.render(units),
	}

	if err := n.app.NewMailClient().Send(message); err != nil {
		return fmt.Errorf("notify.SendTickets: %w", err)
	}
	return nil
}

func (n *MailNotifier) render(units []*models.TicketUnit) string {
	first := units[0]

	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;max-width:600px;margin:0 auto">`)
	fmt.Fprintf(&b, `<h2>%s</h2>`, n.eventName)
	fmt.Fprintf(&b, `<p>Hi %s,</p>`, first.Name)
	fmt.Fprintf(&b, `<p>Your payment is confirmed. You have %d ticket(s) for %s at %s.</p>`,
		len(units), n.eventDate, n.eventLocation)

	for i, u := range units {
		b.WriteString(`<div style="border:1px solid #ddd;border-radius:8px;padding:16px;margin:12px 0">`)
		fmt.Fprintf(&b, `<p><strong>Ticket %d of %d</strong></p>`, i+1, len(units))
		fmt.Fprintf(&b, `<p>Type: %s</p>`, u.TicketType)
		fmt.Fprintf(&b, `<p>Ticket No: %s</p>`, u.TicketNo)
		fmt.Fprintf(&b, `<p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p>`, u.ShortCode)
		b.WriteString(`<p>Show this code at the entrance.</p>`)
		b.WriteString(`</div>`)
	}

	b.WriteString(`<p>See you there!</p>`)
	b.WriteString(`</div>`)
	return b.String()
}
