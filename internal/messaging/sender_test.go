package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/clinicdesk/internal/messaging/whatsappclient"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

type stubGateway struct {
	to     string
	text   string
	result *whatsappclient.SendResult
	err    error
}

func (g *stubGateway) SendMessageToPatient(ctx context.Context, phone, text string) (*whatsappclient.SendResult, error) {
	g.to = phone
	g.text = text
	return g.result, g.err
}

func TestGatewaySender_NormalizesRecipient(t *testing.T) {
	gw := &stubGateway{result: &whatsappclient.SendResult{Success: true, MessageID: "m1"}}
	sender := NewGatewaySender(gw, nil, logging.Discard())

	res, err := sender.SendMessageToPatient(context.Background(), "+34 666 111 222", "Hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success || res.MessageID != "m1" {
		t.Fatalf("unexpected result %#v", res)
	}
	if gw.to != "34666111222" {
		t.Fatalf("expected normalized phone, got %q", gw.to)
	}
}

func TestGatewaySender_RejectedAndErrors(t *testing.T) {
	gw := &stubGateway{result: &whatsappclient.SendResult{Success: false, Error: "not on whatsapp"}}
	sender := NewGatewaySender(gw, nil, logging.Discard())

	res, err := sender.SendMessageToPatient(context.Background(), "666111222", "Hola")
	if err != nil || res.Success {
		t.Fatalf("expected unsuccessful result without error, got %#v %v", res, err)
	}

	gw.err = errors.New("timeout")
	if _, err := sender.SendMessageToPatient(context.Background(), "666111222", "Hola"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := sender.SendMessageToPatient(context.Background(), "n/a", "Hola"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}
