package payment

import (
	"strings"
	"testing"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Verdict
	}{
		{
			name: "valid with operation",
			raw:  `{"valido": true, "ilegible": false, "motivo": "Cumple todo", "numero_operacion": "123456789"}`,
			want: Verdict{Valid: true, Reason: "Cumple todo", OperationRef: "123456789"},
		},
		{
			name: "fenced with prose",
			raw:  "Acá va:\n```json\n{\"valido\": true, \"ilegible\": false, \"motivo\": \"ok\", \"numero_operacion\": \"A-1\"}\n```",
			want: Verdict{Valid: true, Reason: "ok", OperationRef: "A-1"},
		},
		{
			name: "null operation string",
			raw:  `{"valido": true, "ilegible": false, "motivo": "ok", "numero_operacion": "null"}`,
			want: Verdict{Valid: true, Reason: "ok"},
		},
		{
			name: "rejected keeps reason and drops operation",
			raw:  `{"valido": false, "ilegible": false, "motivo": "El monto es $5.000", "numero_operacion": "999"}`,
			want: Verdict{Reason: "El monto es $5.000"},
		},
		{
			name: "illegible is never valid",
			raw:  `{"valido": true, "ilegible": true, "motivo": "borrosa"}`,
			want: Verdict{Illegible: true, Reason: "borrosa"},
		},
		{
			name: "numeric operation",
			raw:  `{"valido": true, "ilegible": false, "motivo": "ok", "numero_operacion": 98765432101}`,
			want: Verdict{Valid: true, Reason: "ok", OperationRef: "98765432101"},
		},
		{
			name: "json null operation",
			raw:  `{"valido": true, "ilegible": false, "motivo": "ok", "numero_operacion": null}`,
			want: Verdict{Valid: true, Reason: "ok"},
		},
		{
			name: "english keys",
			raw:  `{"valid": false, "illegible": false, "reason": "wrong payee"}`,
			want: Verdict{Reason: "wrong payee"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "no puedo ayudar con eso", `{"valido": tru`} {
		_, err := ParseVerdict(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestIsTechnicalError(t *testing.T) {
	assert.True(t, IsTechnicalError(ReasonCallFailure))
	assert.True(t, IsTechnicalError(ReasonParseFailure))
	assert.True(t, IsTechnicalError("El SERVICIO no respondió"))

	assert.False(t, IsTechnicalError("El destinatario no es Santillan"))
	assert.False(t, IsTechnicalError("La fecha no es de hoy"))
	// Known false positive of the substring heuristic.
	assert.True(t, IsTechnicalError("Pago de servicio de luz, no es una transferencia"))
}

func TestVerificationPromptQuotesExpectation(t *testing.T) {
	date := time.Date(2026, 2, 26, 15, 0, 0, 0, domain.ClubZone)
	prompt := VerificationPrompt(Expectation{Amount: 30000, Payee: "Alejandro Santillan", Date: date})

	for _, want := range []string{"$30.000", "26/02/2026", `"Alejandro Santillan"`, `"Santillan"`, `"numero_operacion"`} {
		assert.True(t, strings.Contains(prompt, want), "prompt missing %q", want)
	}
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "jpeg", imageFormat("image/jpeg"))
	assert.Equal(t, "jpeg", imageFormat("image/jpg"))
	assert.Equal(t, "png", imageFormat("IMAGE/PNG"))
	assert.Equal(t, "webp", imageFormat("image/webp; charset=binary"))
	assert.Equal(t, "jpeg", imageFormat(""))
	assert.Equal(t, "jpeg", imageFormat("application/octet-stream"))
}
