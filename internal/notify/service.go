package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// Config lists who hears about urgent conversations.
type Config struct {
	ClinicName      string
	EmailRecipients []string
	StaffPhones     []string
	Location        *time.Location
}

// Service tells clinic staff about conversations tagged urgent, by email and
// by WhatsApp to on-call phones. It implements conversation.UrgencyNotifier.
type Service struct {
	email  EmailSender
	staff  conversation.Sender
	cfg    Config
	logger *logging.Logger
}

func NewService(email EmailSender, staff conversation.Sender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if strings.TrimSpace(cfg.ClinicName) == "" {
		cfg.ClinicName = defaultFromName
	}
	return &Service{email: email, staff: staff, cfg: cfg, logger: logger}
}

// NotifyUrgent sends every configured alert. All recipients are attempted
// even when some fail.
func (s *Service) NotifyUrgent(ctx context.Context, alert conversation.UrgentAlert) error {
	var errs []error

	if s.email != nil && len(s.cfg.EmailRecipients) > 0 {
		subject, body, htmlBody := s.formatEmail(alert)
		for _, recipient := range s.cfg.EmailRecipients {
			if err := s.email.Send(ctx, EmailMessage{
				To:           recipient,
				Subject:      subject,
				Body:         body,
				HTML:         htmlBody,
				Category:     CategoryUrgentAlert,
				HighPriority: true,
			}); err != nil {
				s.logger.Error("notify: failed to send urgency email", "error", err, "to", recipient)
				errs = append(errs, err)
				continue
			}
			s.logger.Info("notify: urgency email sent", "to", recipient, "conversation_id", alert.ConversationID)
		}
	}

	if s.staff != nil && len(s.cfg.StaffPhones) > 0 {
		text := s.formatWhatsApp(alert)
		for _, phone := range s.cfg.StaffPhones {
			res, err := s.staff.SendMessageToPatient(ctx, phone, text)
			if err == nil && !res.Success {
				err = conversation.ErrSendRejected
			}
			if err != nil {
				s.logger.Error("notify: failed to alert staff phone", "error", err, "to", phone)
				errs = append(errs, err)
				continue
			}
			s.logger.Info("notify: staff alerted on whatsapp", "to", phone, "conversation_id", alert.ConversationID)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

func (s *Service) taggedAt(alert conversation.UrgentAlert) string {
	at := alert.TaggedAt
	if at.IsZero() {
		at = time.Now()
	}
	return at.In(s.cfg.Location).Format("02/01/2006 15:04")
}

func (s *Service) formatEmail(alert conversation.UrgentAlert) (string, string, string) {
	subject := fmt.Sprintf("Mensaje urgente de %s", alert.Phone)
	keyword := ""
	if alert.Keyword != "" {
		keyword = fmt.Sprintf("\nPalabra detectada: %s", alert.Keyword)
	}
	body := fmt.Sprintf(`Un paciente ha escrito un mensaje marcado como urgente.

Teléfono: %s
Mensaje: %s%s
Recibido: %s
Conversación: %s

Revisa la conversación y contacta con el paciente lo antes posible.

%s`, alert.Phone, alert.Text, keyword, s.taggedAt(alert), alert.ConversationID, s.cfg.ClinicName)

	keywordRow := ""
	if alert.Keyword != "" {
		keywordRow = fmt.Sprintf(`<tr><td style="padding: 8px;"><strong>Palabra detectada:</strong></td><td style="padding: 8px;">%s</td></tr>`,
			html.EscapeString(alert.Keyword))
	}
	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #dc2626;">Mensaje urgente</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Teléfono:</strong></td><td style="padding: 8px;"><a href="tel:+%s">%s</a></td></tr>
  <tr><td style="padding: 8px;"><strong>Mensaje:</strong></td><td style="padding: 8px;">%s</td></tr>
  %s
  <tr><td style="padding: 8px;"><strong>Recibido:</strong></td><td style="padding: 8px;">%s</td></tr>
</table>
<p style="color: #6b7280; font-size: 12px;">%s</p>
</div>`,
		html.EscapeString(alert.Phone), html.EscapeString(alert.Phone), html.EscapeString(alert.Text),
		keywordRow, s.taggedAt(alert), html.EscapeString(s.cfg.ClinicName))
	return subject, body, htmlBody
}

func (s *Service) formatWhatsApp(alert conversation.UrgentAlert) string {
	return fmt.Sprintf("URGENTE %s: paciente %s escribió \"%s\". Revisa la conversación %s.",
		s.taggedAt(alert), alert.Phone, truncate(alert.Text, 120), alert.ConversationID)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

var _ conversation.UrgencyNotifier = (*Service)(nil)
