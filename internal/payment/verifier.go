// Package payment verifies proof-of-payment images against the expected
// deposit, payee and date.
package payment

import (
	"context"
	"strings"
	"time"
)

// Reasons returned when verification cannot produce a usable verdict.
const (
	ReasonParseFailure = "Error interno al procesar la respuesta. Intentá de nuevo."
	ReasonCallFailure  = "Error técnico al conectar con el servicio de verificación."
)

// Expectation is what a proof must show to be accepted.
type Expectation struct {
	Amount int
	Payee  string
	Date   time.Time
}

// Verdict is the outcome of one verification.
type Verdict struct {
	Valid        bool
	Illegible    bool
	Reason       string
	OperationRef string
}

// Verifier checks a proof image. Implementations never return an error:
// upstream failures become a technical-error Verdict.
type Verifier interface {
	Verify(ctx context.Context, image []byte, mediaType string, want Expectation) Verdict
}

// technicalMarkers flag a verdict reason as an infrastructure failure rather
// than a rejection on the merits. This is substring matching on free text
// and can misclassify a genuine rejection that happens to contain a marker.
var technicalMarkers = []string{"error técnico", "error interno", "servicio"}

// IsTechnicalError reports whether reason reads as a technical failure.
func IsTechnicalError(reason string) bool {
	r := strings.ToLower(reason)
	for _, m := range technicalMarkers {
		if strings.Contains(r, m) {
			return true
		}
	}
	return false
}

func technicalVerdict(reason string) Verdict {
	return Verdict{Valid: false, Illegible: false, Reason: reason}
}
