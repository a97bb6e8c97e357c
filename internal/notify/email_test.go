package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

type fakeSendGrid struct {
	status int
	// statuses, when set, are returned in order before falling back to status.
	statuses []int
	err      error
	sent     []*mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if len(f.statuses) > 0 {
		status, f.statuses = f.statuses[0], f.statuses[1:]
	}
	return &rest.Response{StatusCode: status}, nil
}

type fakeSES struct {
	err    error
	inputs []*sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "alertas@clinica.es"}, nil)
	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "alertas@clinica.es"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "ClinicDesk" {
		t.Errorf("expected default from name 'ClinicDesk', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: fake, fromEmail: "alertas@clinica.es", fromName: "Clínica Sonrisa", logger: logging.Discard()}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recepcion@clinica.es",
		Subject: "Mensaje urgente",
		Body:    "texto",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(fake.sent))
	}
	msg := fake.sent[0]
	if msg.Subject != "Mensaje urgente" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if msg.From.Name != "Clínica Sonrisa" || msg.From.Address != "alertas@clinica.es" {
		t.Errorf("unexpected from %+v", msg.From)
	}
	if got := msg.Personalizations[0].To[0].Address; got != "recepcion@clinica.es" {
		t.Errorf("unexpected recipient %q", got)
	}
}

func TestSendGridSender_Send_ErrorStatus(t *testing.T) {
	sender := &SendGridSender{client: &fakeSendGrid{status: 401}, logger: logging.Discard()}
	if err := sender.Send(context.Background(), EmailMessage{To: "a@b.es"}); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestSendGridSender_Send_CategoryAndPriority(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: fake, fromEmail: "alertas@clinica.es", fromName: "Clínica", logger: logging.Discard()}

	err := sender.Send(context.Background(), EmailMessage{
		To:           "recepcion@clinica.es",
		Subject:      "Urgente",
		Body:         "texto",
		Category:     CategoryUrgentAlert,
		HighPriority: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := fake.sent[0]
	if len(msg.Categories) != 1 || msg.Categories[0] != CategoryUrgentAlert {
		t.Errorf("unexpected categories %v", msg.Categories)
	}
	if msg.Headers["X-Priority"] != "1" {
		t.Errorf("expected X-Priority header, got %v", msg.Headers)
	}
}

func TestSendGridSender_Send_RetriesServerError(t *testing.T) {
	fake := &fakeSendGrid{statuses: []int{503}, status: 202}
	sender := &SendGridSender{client: fake, logger: logging.Discard()}

	if err := sender.Send(context.Background(), EmailMessage{To: "a@b.es", Body: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.sent) != 2 {
		t.Fatalf("expected a retry, got %d calls", len(fake.sent))
	}
}

func TestSendGridSender_Send_NoRetryOnClientError(t *testing.T) {
	fake := &fakeSendGrid{status: 400}
	sender := &SendGridSender{client: fake, logger: logging.Discard()}

	if err := sender.Send(context.Background(), EmailMessage{To: "a@b.es", Body: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected a single call, got %d", len(fake.sent))
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "recepcion@clinica.es", Subject: "Test"})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "alertas@clinica.es"}, logging.Discard())

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recepcion@clinica.es",
		Subject: "Mensaje urgente",
		Body:    "texto",
		HTML:    "<p>texto</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected one SendEmail call, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if got := aws.ToString(in.FromEmailAddress); got != "ClinicDesk <alertas@clinica.es>" {
		t.Errorf("unexpected from %q", got)
	}
	if in.Destination.ToAddresses[0] != "recepcion@clinica.es" {
		t.Errorf("unexpected destination %v", in.Destination.ToAddresses)
	}
	body := in.Content.Simple.Body
	if body.Text == nil || aws.ToString(body.Text.Data) != "texto" {
		t.Errorf("expected text body")
	}
	if body.Html == nil || aws.ToString(body.Html.Data) != "<p>texto</p>" {
		t.Errorf("expected html body")
	}
}

func TestSESSender_Send_TagsAndConfigurationSet(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "a@b.es", ConfigurationSet: "clinic-alerts"}, logging.Discard())

	if err := sender.Send(context.Background(), EmailMessage{To: "c@d.es", Body: "x", Category: CategoryUrgentAlert}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := fake.inputs[0]
	if aws.ToString(in.ConfigurationSetName) != "clinic-alerts" {
		t.Errorf("unexpected configuration set %q", aws.ToString(in.ConfigurationSetName))
	}
	if len(in.EmailTags) != 1 || aws.ToString(in.EmailTags[0].Value) != CategoryUrgentAlert {
		t.Errorf("unexpected tags %+v", in.EmailTags)
	}
}

func TestSESSender_Send_Error(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "a@b.es"}, logging.Discard())
	if err := sender.Send(context.Background(), EmailMessage{To: "c@d.es", Body: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Fatal("expected nil sender without client")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(logging.Discard())
	if err := sender.Send(context.Background(), EmailMessage{To: "recepcion@clinica.es", Subject: "Test"}); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}
