package entrycode

import (
	"encoding/json"
	"fmt"
	"strings"

	"ftc-tickets/models"
)

// Code is an entry credential for a single ticket unit. Renderable is the
// string a frontend turns into a scannable code; Payload is the decodable
// JSON that resolves back to the unit.
type Code struct {
	Renderable string `json:"renderable"`
	Payload    string `json:"payload"`
}

// Generator produces entry credentials. The default implementation emits
// the bare payload; rendering it into an image is a frontend concern.
type Generator interface {
	Generate(unit *models.TicketUnit) (*Code, error)
}

type payload struct {
	TicketNo string `json:"ticketId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Event    string `json:"event"`
	Type     string `json:"type"`
}

// PayloadGenerator builds JSON entry payloads carrying the ticket number
// plus enough buyer context for offline display at the door.
type PayloadGenerator struct {
	EventName string
}

func NewPayloadGenerator(eventName string) *PayloadGenerator {
	return &PayloadGenerator{EventName: eventName}
}

func (g *PayloadGenerator) Generate(unit *models.TicketUnit) (*Code, error) {
	data, err := json.Marshal(payload{
		TicketNo: unit.TicketNo,
		Name:     unit.Name,
		Email:    unit.Email,
		Event:    g.EventName,
		Type:     unit.TicketType,
	})
	if err != nil {
		return nil, fmt.Errorf("entrycode.Generate: %w", err)
	}

	return &Code{
		Renderable: string(data),
		Payload:    string(data),
	}, nil
}

// Decode extracts the ticket number from a scanned payload. Non-JSON input
// is treated as a literal ticket number.
func Decode(raw string) string {
	raw = strings.TrimSpace(raw)

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err == nil && p.TicketNo != "" {
		return p.TicketNo
	}

	return raw
}
