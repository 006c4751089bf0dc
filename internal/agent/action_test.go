package agent

import (
	"strings"
	"testing"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractActionSpanishPrepare(t *testing.T) {
	raw := "Perfecto, te resumo: mañana 20:00, cancha 2, Juan Perez.\n" +
		`<ACCION>{"tipo": "preparar_reserva", "fecha": "2026-03-02", "hora": "20:00", "cancha_id": 2, "nombre": "Juan Perez", "telefono": "1122334455"}</ACCION>`

	text, action, err := ExtractAction(raw)
	require.NoError(t, err)
	assert.Equal(t, "Perfecto, te resumo: mañana 20:00, cancha 2, Juan Perez.", text)

	prep, ok := action.(domain.PrepareReservation)
	require.True(t, ok, "got %T", action)
	assert.Equal(t, domain.Draft{Date: "2026-03-02", Time: "20:00", CourtID: 2, Name: "Juan Perez", Phone: "1122334455"}, prep.Draft)
}

func TestExtractActionEnglishKeysAndLooseTypes(t *testing.T) {
	raw := `ok <ACCION>{"type": "prepare_multiple_reservations", "reservations": [` +
		`{"date": "2026-03-02", "time": "20:00", "court_id": "1", "name": "Ana", "phone": 1133344455},` +
		`{"date": "2026-03-02", "time": "21:30", "court_id": 1, "name": "Ana", "phone": "1133344455"}]}</ACCION>`

	_, action, err := ExtractAction(raw)
	require.NoError(t, err)

	batch, ok := action.(domain.PrepareBatch)
	require.True(t, ok, "got %T", action)
	require.Len(t, batch.Drafts, 2)
	assert.Equal(t, 1, batch.Drafts[0].CourtID)
	assert.Equal(t, "1133344455", batch.Drafts[0].Phone)
	assert.Equal(t, "21:30", batch.Drafts[1].Time)
}

func TestParseActionVariants(t *testing.T) {
	tests := []struct {
		name  string
		block string
		want  domain.Action
	}{
		{"availability", `{"tipo":"consultar_disponibilidad","fecha":"2026-03-02","hora":"18:30"}`,
			domain.CheckAvailability{Date: "2026-03-02", Time: "18:30"}},
		{"list", `{"tipo":"consultar_reservas","telefono":"111"}`,
			domain.ListReservations{Phone: "111"}},
		{"cancel one", `{"tipo":"cancelar_reserva","reserva_id":"#42"}`,
			domain.CancelReservation{ID: 42}},
		{"cancel many", `{"type":"cancel_multiple_reservations","reservation_ids":[42, "43"]}`,
			domain.CancelReservations{IDs: []int64{42, 43}}},
		{"grid", `{"tipo":"ver_grilla","fecha":"2026-03-02"}`,
			domain.ViewGrid{Date: "2026-03-02"}},
		{"escalate", `{"tipo":"derivar_humano","motivo":"quiere clases"}`,
			domain.EscalateToHuman{Reason: "quiere clases"}},
		{"escalate without reason", `{"tipo":"derivar_humano"}`,
			domain.EscalateToHuman{Reason: "Sin especificar"}},
		{"fenced", "```json\n{\"tipo\":\"ver_grilla\",\"fecha\":\"2026-03-02\"}\n```",
			domain.ViewGrid{Date: "2026-03-02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.block)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMalformedActionKeepsText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad json", `Dale! <ACCION>{"tipo": "preparar_reserva", "fecha": </ACCION>`},
		{"unknown tag", `Dale! <ACCION>{"tipo": "reservar_todo"}</ACCION>`},
		{"invalid slot", `Dale! <ACCION>{"tipo":"preparar_reserva","fecha":"2026-03-02","hora":"20:15","cancha_id":1,"nombre":"J","telefono":"1"}</ACCION>`},
		{"unknown court", `Dale! <ACCION>{"tipo":"preparar_reserva","fecha":"2026-03-02","hora":"20:00","cancha_id":7,"nombre":"J","telefono":"1"}</ACCION>`},
		{"empty batch", `Dale! <ACCION>{"tipo":"preparar_multiples_reservas","reservas":[]}</ACCION>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, action, err := ExtractAction(tt.raw)
			assert.Error(t, err)
			assert.Nil(t, action)
			assert.Equal(t, "Dale!", text)
		})
	}
}

func TestExtractActionWithoutBlock(t *testing.T) {
	text, action, err := ExtractAction("  Hola! En qué te ayudo?  ")
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Equal(t, "Hola! En qué te ayudo?", text)

	text, action, err = ExtractAction("texto <ACCION> sin cierre")
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Equal(t, "texto <ACCION> sin cierre", text)
}

func TestUnknownTagWrapsSentinel(t *testing.T) {
	_, err := ParseAction(`{"tipo":"bailar"}`)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestSystemPromptQuotesContext(t *testing.T) {
	now := mustTime(t, "2026-03-01 18:45")
	pc := NewPromptContext(domain.DefaultClub(), domain.CourtIDs(), domain.Slots(), now, "1122334455", "Juan")

	prompt := SystemPrompt(pc)
	for _, want := range []string{
		"2026-03-01",
		"18:45",
		"Turnos validos: 08:00, 09:30",
		"23:00",
		"Su nombre es Juan y su telefono confirmado es 1122334455",
		"$10.000",
		"Alejandro Santillan",
		"@franv4",
		"Cancha 4 - Exterior blindex y cesped",
		"<ACCION>",
	} {
		assert.True(t, strings.Contains(prompt, want), "prompt missing %q", want)
	}

	anon := SystemPrompt(NewPromptContext(domain.DefaultClub(), domain.CourtIDs(), domain.Slots(), now, "", ""))
	assert.NotContains(t, anon, "DATOS DEL USUARIO")
}
