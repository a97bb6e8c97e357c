package whatsappclient

import (
	"errors"
	"strings"
	"time"
)

// SendMessageRequest is one outbound text message.
type SendMessageRequest struct {
	To   string
	Text string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("whatsappclient: recipient phone required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("whatsappclient: message text required")
	}
	return nil
}

type sendMessageBody struct {
	SessionID string `json:"session_id,omitempty"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

// SendResult is the gateway's answer to a send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionStatus describes the WhatsApp session behind the gateway.
type SessionStatus struct {
	SessionID   string    `json:"session_id,omitempty"`
	Connected   bool      `json:"connected"`
	State       string    `json:"state,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty"`
	QRAvailable bool      `json:"qr_available,omitempty"`
}

// InboundMessage is the body the gateway posts for each received message.
type InboundMessage struct {
	MessageID   string    `json:"messageId"`
	FromPhone   string    `json:"fromPhone"`
	Text        string    `json:"text"`
	MessageType string    `json:"messageType"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validate checks the fields every inbound message needs.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.FromPhone) == "" {
		return errors.New("whatsappclient: fromPhone required")
	}
	switch strings.ToLower(strings.TrimSpace(m.MessageType)) {
	case "", "text", "media":
	default:
		return errors.New("whatsappclient: unsupported messageType")
	}
	return nil
}
