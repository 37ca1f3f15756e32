package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

const routingKeyTicketsIssued = "ticket.issued"

// Publisher hands issued tickets to the notification collaborator over a
// topic exchange. Delivery is fire-and-forget from the saga's perspective;
// a publish failure never rolls back a confirmed booking.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

type ticketMessage struct {
	TicketNumber string    `json:"ticket_number"`
	Payload      string    `json:"payload"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidUntil   time.Time `json:"valid_until"`
}

type deliveryMessage struct {
	BookingReference string          `json:"booking_reference"`
	GuestName        string          `json:"guest_name"`
	GuestEmail       string          `json:"guest_email"`
	ResourceID       string          `json:"resource_id"`
	SlotDate         string          `json:"slot_date"`
	Timeslot         string          `json:"timeslot,omitempty"`
	Tickets          []ticketMessage `json:"tickets"`
}

func (p *Publisher) Deliver(ctx context.Context, b domain.Booking, tickets []domain.Ticket) error {
	msg := deliveryMessage{
		BookingReference: b.Reference,
		GuestName:        b.Guest.Name,
		GuestEmail:       b.Guest.Email,
		ResourceID:       b.Slot.ResourceID,
		SlotDate:         b.Slot.Date.Format("2006-01-02"),
		Timeslot:         b.Slot.Timeslot,
	}
	for _, t := range tickets {
		msg.Tickets = append(msg.Tickets, ticketMessage{
			TicketNumber: t.TicketNumber,
			Payload:      t.Payload,
			ValidFrom:    t.ValidFrom,
			ValidUntil:   t.ValidUntil,
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal delivery message: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKeyTicketsIssued, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish delivery message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
