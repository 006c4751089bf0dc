package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/google/generative-ai-go/genai"
)

// GeminiVerifier implements Verifier with a Gemini vision model.
type GeminiVerifier struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiVerifier creates a verifier on model, sharing client.
func NewGeminiVerifier(client *genai.Client, model string, logger *slog.Logger) *GeminiVerifier {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiVerifier{client: client, model: model, logger: logger}
}

// Verify asks the model to check the proof and parses its JSON answer.
func (g *GeminiVerifier) Verify(ctx context.Context, image []byte, mediaType string, want Expectation) Verdict {
	model := g.client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx,
		genai.Text(VerificationPrompt(want)),
		genai.ImageData(imageFormat(mediaType), image),
	)
	if err != nil {
		g.logger.Error("proof verification call failed", "error", err)
		return technicalVerdict(ReasonCallFailure)
	}

	raw := responseText(resp)
	verdict, err := ParseVerdict(raw)
	if err != nil {
		g.logger.Error("proof verification returned unparseable reply", "error", err, "reply", raw)
		return technicalVerdict(ReasonParseFailure)
	}

	g.logger.Info("proof verification result",
		"amount", want.Amount,
		"valid", verdict.Valid,
		"illegible", verdict.Illegible,
		"operation_ref", verdict.OperationRef)
	return verdict
}

// imageFormat turns a MIME type like "image/jpeg" into the bare format name.
func imageFormat(mediaType string) string {
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	format := strings.TrimPrefix(mediaType, "image/")
	switch {
	case format == "", strings.Contains(format, "/"):
		return "jpeg"
	case format == "jpg":
		return "jpeg"
	}
	return format
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	return sb.String()
}

// VerificationPrompt renders the instructions sent with a proof image.
func VerificationPrompt(want Expectation) string {
	amount := domain.FormatAmount(want.Amount)
	day := want.Date.Format("02/01/2006")
	surname := want.Payee
	if fields := strings.Fields(want.Payee); len(fields) > 0 {
		surname = fields[len(fields)-1]
	}

	var b strings.Builder
	b.WriteString("Analizá esta imagen. Es un comprobante de transferencia bancaria enviado por un cliente para confirmar una reserva de pádel.\n\n")
	b.WriteString("Tu tarea es extraer la información visible y verificar si cumple los criterios. Leé con atención todo el texto de la imagen antes de responder.\n\n")
	b.WriteString("CRITERIOS A VERIFICAR (todos deben cumplirse para que sea válido):\n")
	b.WriteString("1. TIPO: Debe ser un comprobante de transferencia bancaria de cualquier banco o billetera argentina (Mercado Pago, Naranja X, Brubank, BBVA, Galicia, Santander, Uala, etc.).\n")
	fmt.Fprintf(&b, "2. DESTINATARIO: El campo \"Para\", \"Destinatario\" o similar debe contener %q. "+
		"Aceptá variaciones con o sin tilde, iniciales o segundo nombre; alcanza con que el apellido %q esté presente.\n",
		want.Payee, surname)
	fmt.Fprintf(&b, "3. MONTO: Debe ser exactamente $%s pesos. Puede aparecer como \"$%s\", \"$ %s\", \"%d\" o similar.\n",
		amount, amount, amount, want.Amount)
	fmt.Fprintf(&b, "4. FECHA: Debe ser del día de hoy: %s. Puede estar escrita como \"%s\", \"hoy\" o en formato largo.\n\n", day, day)
	b.WriteString("SOBRE \"ilegible\":\n")
	b.WriteString("Poné ilegible: true SOLO si la imagen está tan borrosa, oscura o recortada que no podés leer NINGÚN texto. ")
	b.WriteString("Si podés leer aunque sea parte del texto, poné ilegible: false y evaluá con lo que ves.\n\n")
	b.WriteString("NÚMERO DE OPERACIÓN: Buscá cualquier código o número único del pago (\"Número de operación\", \"ID de transacción\", \"Código\", \"Referencia\", \"N° comprobante\", etc.) y extraelo.\n\n")
	b.WriteString("Respondé ÚNICAMENTE con JSON válido, sin texto adicional ni backticks:\n")
	b.WriteString(`{"valido": true/false, "ilegible": true/false, "motivo": "explicación breve en español de qué cumple o qué falta", "numero_operacion": "el número encontrado o null"}`)
	return b.String()
}
