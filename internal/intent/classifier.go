// Package intent classifies free-text patient messages into a closed set of
// intents using curated Spanish keyword lists.
package intent

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var classifierTracer = otel.Tracer("clinicdesk/intent-classifier")

// Label is the classified purpose of an inbound message.
type Label string

const (
	LabelConfirm    Label = "confirm"
	LabelCancel     Label = "cancel"
	LabelReschedule Label = "reschedule"
	LabelAskInfo    Label = "ask_info"
	LabelGreet      Label = "greet"
	LabelEmergency  Label = "emergency"
	LabelUnknown    Label = "unknown"
)

const (
	// MatchConfidence is reported for any keyword hit.
	MatchConfidence = 0.8
	// NoMatchConfidence is reported for unknown messages.
	NoMatchConfidence = 0.2
)

// Topic narrows an information request to what the patient is asking about.
type Topic string

const (
	TopicNone        Topic = ""
	TopicPrice       Topic = "price"
	TopicAppointment Topic = "appointment"
	TopicHours       Topic = "hours"
	TopicLocation    Topic = "location"
)

// Result is the outcome of classifying one message.
type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Keyword    string  `json:"keyword,omitempty"`
	Topic      Topic   `json:"topic,omitempty"`
}

// IsEmergency reports whether the message should be tagged urgent.
func (r Result) IsEmergency() bool {
	return r.Label == LabelEmergency
}

type rule struct {
	label Label
	// keywords match as substrings; keywords of three letters or fewer match whole words.
	keywords []string
	// replies match only when they are the entire message ("vale", "ok").
	replies []string
}

type topicRule struct {
	topic    Topic
	keywords []string
}

// rules are evaluated in priority order: emergency > cancel > reschedule >
// confirm > ask_info > greet. Emergency comes first so "no puedo soportar el
// dolor" is never read as a cancellation.
var rules = []rule{
	{
		label: LabelEmergency,
		keywords: []string{
			"dolor", "duele", "urgente", "urgencia", "emergencia", "sangrando", "sangra", "sangre",
			"hinchado", "hinchada", "hinchazon", "inflamado", "inflamada", "infeccion", "absceso", "pus",
			"fiebre", "no aguanto", "no puedo soportar", "diente roto", "muela rota", "diente partido",
			"se me rompio", "se me ha roto", "se me cayo", "accidente", "golpe",
			"in pain", "urgent", "bleeding", "emergency",
		},
	},
	{
		label: LabelCancel,
		keywords: []string{
			"cancelar", "cancela", "cancelo", "anular", "anulo", "no podre ir", "no puedo ir",
			"no voy a poder", "no podre asistir", "no puedo asistir", "no asistire", "no voy a ir",
			"cancel",
		},
	},
	{
		label: LabelReschedule,
		keywords: []string{
			"cambiar la cita", "cambiar mi cita", "cambiar de dia", "cambiar de hora", "cambiar la hora",
			"reprogramar", "aplazar", "posponer", "mover la cita", "otro dia", "otra hora", "otro horario",
			"reagendar", "reschedule",
		},
	},
	{
		label: LabelConfirm,
		keywords: []string{
			"confirmo", "confirmar", "confirmada", "confirmado", "de acuerdo", "alli estare", "ahi estare",
			"cuenten conmigo", "asistire", "confirm",
		},
		replies: []string{
			"si", "vale", "ok", "okey", "si vale", "vale gracias", "si gracias", "perfecto", "genial", "yes",
		},
	},
	{
		label: LabelAskInfo,
		keywords: []string{
			"precio", "cuanto cuesta", "cuanto vale", "cuanto sale", "tarifa", "presupuesto", "coste",
			"horario", "a que hora", "abren", "abierto", "cierran", "donde", "direccion", "ubicacion",
			"como llego", "como llegar", "informacion", "info", "pedir cita", "quiero una cita",
			"reservar", "disponibilidad", "hay hueco", "financiacion", "seguro dental", "mutua",
			"price", "hours", "address",
		},
	},
	{
		label: LabelGreet,
		keywords: []string{
			"hola", "buenos dias", "buenas tardes", "buenas noches", "buenas", "saludos",
			"hello", "hi", "hey",
		},
	},
}

var topicRules = []topicRule{
	{topic: TopicPrice, keywords: []string{"precio", "cuanto cuesta", "cuanto vale", "cuanto sale", "tarifa", "presupuesto", "coste", "costo", "financiacion", "price"}},
	{topic: TopicHours, keywords: []string{"horario", "a que hora", "abren", "abierto", "cierran", "que dias", "hours"}},
	{topic: TopicLocation, keywords: []string{"donde", "direccion", "ubicacion", "como llego", "como llegar", "mapa", "address", "location"}},
	{topic: TopicAppointment, keywords: []string{"cita", "reservar", "disponibilidad", "hueco", "agendar", "appointment", "book"}},
}

// Classify maps message text to exactly one intent. It never panics and
// returns LabelUnknown with NoMatchConfidence for empty or unmatched text.
// Topic is set only for ask_info, greet and unknown results.
func Classify(text string) Result {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{Label: LabelUnknown, Confidence: NoMatchConfidence}
	}
	words := wordSet(normalized)
	whole := strings.Join(wordList(normalized), " ")

	res := Result{Label: LabelUnknown, Confidence: NoMatchConfidence}
match:
	for _, r := range rules {
		for _, reply := range r.replies {
			if whole == reply {
				res = Result{Label: r.label, Confidence: MatchConfidence, Keyword: reply}
				break match
			}
		}
		for _, kw := range r.keywords {
			if containsKeyword(normalized, words, kw) {
				res = Result{Label: r.label, Confidence: MatchConfidence, Keyword: kw}
				break match
			}
		}
	}
	if hasTopic(res.Label) {
		res.Topic = detectTopic(normalized, words)
	}
	return res
}

func hasTopic(l Label) bool {
	return l == LabelAskInfo || l == LabelGreet || l == LabelUnknown
}

// ClassifyContext is Classify wrapped in a tracing span.
func ClassifyContext(ctx context.Context, text string) Result {
	_, span := classifierTracer.Start(ctx, "intent.classify")
	defer span.End()

	res := Classify(text)
	span.SetAttributes(
		attribute.String("intent.label", string(res.Label)),
		attribute.Float64("intent.confidence", res.Confidence),
		attribute.String("intent.keyword", res.Keyword),
		attribute.String("intent.topic", string(res.Topic)),
	)
	return res
}

// Normalize lower-cases text, folds accents and collapses whitespace.
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, lowered)
	if err != nil {
		folded = lowered
	}
	return strings.Join(strings.Fields(folded), " ")
}

func detectTopic(normalized string, words map[string]struct{}) Topic {
	for _, tr := range topicRules {
		for _, kw := range tr.keywords {
			if containsKeyword(normalized, words, kw) {
				return tr.topic
			}
		}
	}
	return TopicNone
}

func containsKeyword(normalized string, words map[string]struct{}, kw string) bool {
	if utf8.RuneCountInString(kw) <= 3 && !strings.Contains(kw, " ") {
		_, ok := words[kw]
		return ok
	}
	return strings.Contains(normalized, kw)
}

func wordList(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordSet(normalized string) map[string]struct{} {
	list := wordList(normalized)
	set := make(map[string]struct{}, len(list))
	for _, w := range list {
		set[w] = struct{}{}
	}
	return set
}
