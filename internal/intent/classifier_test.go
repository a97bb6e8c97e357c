package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantLabel   Label
		wantTopic   Topic
		wantKeyword string
	}{
		{
			name:      "pain with urgency",
			message:   "Tengo mucho dolor, es urgente",
			wantLabel: LabelEmergency,
		},
		{
			name:      "emergency beats cancellation",
			message:   "No puedo soportar el dolor",
			wantLabel: LabelEmergency,
		},
		{
			name:      "emergency beats confirmation",
			message:   "Confirmo la cita pero me sangra la encía",
			wantLabel: LabelEmergency,
		},
		{
			name:      "accented emergency",
			message:   "Tengo la cara HINCHADA y fiebre",
			wantLabel: LabelEmergency,
		},
		{
			name:        "cancellation",
			message:     "Quiero cancelar mi cita del jueves",
			wantLabel:   LabelCancel,
			wantKeyword: "cancelar",
		},
		{
			name:      "cannot attend",
			message:   "Mañana no podré ir, lo siento",
			wantLabel: LabelCancel,
		},
		{
			name:      "reschedule",
			message:   "¿Podemos cambiar la cita a otro día?",
			wantLabel: LabelReschedule,
		},
		{
			name:      "confirmation keyword",
			message:   "Confirmo, allí estaré",
			wantLabel: LabelConfirm,
		},
		{
			name:        "bare yes with accent",
			message:     "Sí",
			wantLabel:   LabelConfirm,
			wantKeyword: "si",
		},
		{
			name:        "vale gracias",
			message:     "Vale, gracias!",
			wantLabel:   LabelConfirm,
			wantKeyword: "vale gracias",
		},
		{
			name:      "price question",
			message:   "¿Cuánto cuesta una limpieza?",
			wantLabel: LabelAskInfo,
			wantTopic: TopicPrice,
		},
		{
			name:      "cuanto vale is not a confirmation",
			message:   "¿Cuánto vale un empaste?",
			wantLabel: LabelAskInfo,
			wantTopic: TopicPrice,
		},
		{
			name:      "opening hours",
			message:   "¿A qué hora abren los sábados?",
			wantLabel: LabelAskInfo,
			wantTopic: TopicHours,
		},
		{
			name:      "location",
			message:   "¿Dónde están ubicados?",
			wantLabel: LabelAskInfo,
			wantTopic: TopicLocation,
		},
		{
			name:      "booking request",
			message:   "Hola, quería pedir cita para una revisión",
			wantLabel: LabelAskInfo,
			wantTopic: TopicAppointment,
		},
		{
			name:        "greeting",
			message:     "Hola",
			wantLabel:   LabelGreet,
			wantKeyword: "hola",
		},
		{
			name:      "good morning",
			message:   "Buenos días",
			wantLabel: LabelGreet,
		},
		{
			name:      "greeting asking for an appointment",
			message:   "Buenas, una cita por favor",
			wantLabel: LabelGreet,
			wantTopic: TopicAppointment,
		},
		{
			name:      "unknown keeps its topic",
			message:   "Necesito mirar el mapa",
			wantLabel: LabelUnknown,
			wantTopic: TopicLocation,
		},
		{
			name:      "short keyword needs a whole word",
			message:   "Chiste",
			wantLabel: LabelUnknown,
		},
		{
			name:      "unmatched text",
			message:   "Mi hermano también es paciente",
			wantLabel: LabelUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.message)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.Equal(t, tt.wantTopic, got.Topic)
			if tt.wantKeyword != "" {
				assert.Equal(t, tt.wantKeyword, got.Keyword)
			}
			if tt.wantLabel == LabelUnknown {
				assert.Equal(t, NoMatchConfidence, got.Confidence)
			} else {
				assert.Equal(t, MatchConfidence, got.Confidence)
			}
		})
	}
}

func TestClassifyEmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		got := Classify(text)
		assert.Equal(t, LabelUnknown, got.Label)
		assert.Equal(t, NoMatchConfidence, got.Confidence)
		assert.False(t, got.IsEmergency())
	}
}

func TestClassifyContextMatchesClassify(t *testing.T) {
	got := ClassifyContext(context.Background(), "Me duele mucho la muela")
	assert.True(t, got.IsEmergency())
	assert.Equal(t, Classify("Me duele mucho la muela"), got)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "cuanto cuesta la revision?", Normalize("  Cuánto   cuesta la REVISIÓN?"))
	assert.Equal(t, "manana no podre ir", Normalize("Mañana no podré ir"))
	assert.Equal(t, "", Normalize(" \t "))
}
