package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinicdesk/internal/aiconfig"
	"github.com/wolfman30/clinicdesk/internal/intent"
	"github.com/wolfman30/clinicdesk/internal/messaging/templates"
	"github.com/wolfman30/clinicdesk/internal/schedule"
)

// ClinicProfile is the public clinic information used in replies.
type ClinicProfile struct {
	Name       string
	Phone      string
	Website    string
	Address    string
	BookingURL string
}

// ReplyContext is what a Generator sees for one inbound message.
type ReplyContext struct {
	Text         string
	Phone        string
	Intent       intent.Result
	Config       aiconfig.Config
	WorkingHours bool
	Now          time.Time
}

// Generator produces reply text. An empty string with a nil error means
// "nothing to say".
type Generator interface {
	Name() string
	Generate(ctx context.Context, rc ReplyContext) (string, error)
}

// TemplateData is exposed to the auto-response template.
type TemplateData struct {
	ClinicName   string
	Schedule     string
	Phone        string
	Website      string
	Address      string
	BookingURL   string
	PatientPhone string
}

// TemplateGenerator renders the configured auto-response template.
type TemplateGenerator struct {
	profile  ClinicProfile
	renderer *templates.Renderer
}

func NewTemplateGenerator(profile ClinicProfile) *TemplateGenerator {
	return &TemplateGenerator{profile: profile, renderer: &templates.Renderer{}}
}

func (g *TemplateGenerator) Name() string { return "template" }

func (g *TemplateGenerator) Generate(ctx context.Context, rc ReplyContext) (string, error) {
	return g.renderer.Render("auto_response", rc.Config.AutoResponseTemplate, TemplateData{
		ClinicName:   g.profile.Name,
		Schedule:     schedule.Describe(rc.Config.WorkingHours()),
		Phone:        g.profile.Phone,
		Website:      g.profile.Website,
		Address:      g.profile.Address,
		BookingURL:   g.profile.BookingURL,
		PatientPhone: rc.Phone,
	})
}

const replySystemPrompt = `Eres el asistente de WhatsApp de %s, una clínica dental.
Responde en español, con un tono cercano y profesional, en un máximo de tres frases.
No des diagnósticos ni recomiendes medicación. Si el paciente describe dolor, sangrado o
hinchazón, indícale que su mensaje se ha marcado como urgente y que llame a la clínica%s.
No confirmes, canceles ni cambies citas: indica que el equipo lo gestionará.
Horario de atención: %s.%s`

// LLMGenerator asks a language model for a reply.
type LLMGenerator struct {
	client  LLMClient
	model   string
	profile ClinicProfile
	timeout time.Duration
}

func NewLLMGenerator(client LLMClient, model string, profile ClinicProfile, timeout time.Duration) *LLMGenerator {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &LLMGenerator{client: client, model: model, profile: profile, timeout: timeout}
}

func (g *LLMGenerator) Name() string { return "llm" }

func (g *LLMGenerator) Generate(ctx context.Context, rc ReplyContext) (string, error) {
	if g.client == nil {
		return "", errors.New("conversation: llm client not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	phoneHint := ""
	if g.profile.Phone != "" {
		phoneHint = " al " + g.profile.Phone
	}
	var extra []string
	if g.profile.Website != "" {
		extra = append(extra, "Web: "+g.profile.Website+".")
	}
	if g.profile.Address != "" {
		extra = append(extra, "Dirección: "+g.profile.Address+".")
	}
	if g.profile.BookingURL != "" {
		extra = append(extra, "Reserva de citas: "+g.profile.BookingURL+".")
	}
	if !rc.WorkingHours {
		extra = append(extra, "Ahora mismo la clínica está cerrada.")
	}
	extraText := ""
	if len(extra) > 0 {
		extraText = "\n" + strings.Join(extra, "\n")
	}

	resp, err := g.client.Complete(ctx, LLMRequest{
		Model: g.model,
		System: []string{fmt.Sprintf(replySystemPrompt, g.profile.Name, phoneHint,
			schedule.Describe(rc.Config.WorkingHours()), extraText)},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: rc.Text}},
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// RuleReply is the fixed fallback keyed by intent and topic. It returns ""
// when no canned reply applies.
func RuleReply(res intent.Result, profile ClinicProfile, cfg aiconfig.Config) string {
	contact := "contacta con la clínica"
	if profile.Phone != "" {
		contact = "llámanos al " + profile.Phone
	}
	if res.Label == intent.LabelEmergency {
		return fmt.Sprintf("Hemos recibido tu mensaje y lo hemos marcado como urgente. "+
			"Si necesitas atención inmediata, %s. Ante una urgencia grave llama al 112.", contact)
	}
	switch res.Label {
	case intent.LabelAskInfo, intent.LabelGreet, intent.LabelUnknown:
	default:
		return ""
	}
	switch res.Topic {
	case intent.TopicPrice:
		reply := "Para información sobre precios y presupuestos, " + contact
		if profile.Website != "" {
			reply += " o visita " + profile.Website
		}
		return reply + "."
	case intent.TopicAppointment:
		if profile.BookingURL != "" {
			return fmt.Sprintf("Puedes pedir cita en %s o, si lo prefieres, %s. Indícanos tu nombre y el motivo de la consulta.",
				profile.BookingURL, contact)
		}
		return fmt.Sprintf("Para pedir cita, %s e indícanos tu nombre y el motivo de la consulta.", contact)
	case intent.TopicHours:
		return fmt.Sprintf("Nuestro horario de atención es %s.", schedule.Describe(cfg.WorkingHours()))
	case intent.TopicLocation:
		if profile.Website != "" {
			if profile.Address != "" {
				return fmt.Sprintf("Estamos en %s. Tienes el mapa y cómo llegar en %s.", profile.Address, profile.Website)
			}
			return fmt.Sprintf("Tienes nuestra dirección y cómo llegar en %s.", profile.Website)
		}
		if profile.Address != "" {
			return fmt.Sprintf("Estamos en %s.", profile.Address)
		}
		return ""
	}
	if res.Label == intent.LabelGreet {
		name := profile.Name
		if name == "" {
			name = "la clínica"
		}
		return fmt.Sprintf("¡Hola! Gracias por contactar con %s. ¿En qué podemos ayudarte?", name)
	}
	return ""
}
