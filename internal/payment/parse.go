package payment

import (
	"encoding/json"
	"fmt"
	"strings"
)

type wireVerdict struct {
	Valido          *bool         `json:"valido"`
	Valid           *bool         `json:"valid"`
	Ilegible        *bool         `json:"ilegible"`
	Illegible       *bool         `json:"illegible"`
	Motivo          string        `json:"motivo"`
	Reason          string        `json:"reason"`
	NumeroOperacion *operationRef `json:"numero_operacion"`
	OperationID     *operationRef `json:"operation_id"`
}

// operationRef accepts the reference as a JSON string, a bare number or a
// boolean placeholder.
type operationRef string

func (r *operationRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = operationRef(s)
		return nil
	}
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "true" || s == "false" || strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		*r = ""
		return nil
	}
	*r = operationRef(s)
	return nil
}

// ParseVerdict decodes a model reply into a Verdict. It strips code fences
// and surrounding prose, keeping the outermost JSON object.
func ParseVerdict(raw string) (Verdict, error) {
	text := strings.TrimSpace(raw)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("no JSON object in verifier reply")
	}

	var w wireVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return Verdict{}, fmt.Errorf("decode verifier reply: %w", err)
	}

	v := Verdict{
		Valid:     boolOf(w.Valido, w.Valid),
		Illegible: boolOf(w.Ilegible, w.Illegible),
		Reason:    strings.TrimSpace(firstNonEmpty(w.Motivo, w.Reason)),
	}
	if v.Illegible {
		v.Valid = false
	}
	if v.Valid {
		v.OperationRef = normalizeRef(w.NumeroOperacion, w.OperationID)
	}
	if v.Reason == "" && !v.Valid {
		v.Reason = "No cumple los requisitos"
	}
	return v, nil
}

func boolOf(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// normalizeRef drops the placeholder values models emit for "not found".
func normalizeRef(vals ...*operationRef) string {
	for _, v := range vals {
		if v == nil {
			continue
		}
		ref := strings.TrimSpace(string(*v))
		switch strings.ToLower(ref) {
		case "", "null", "none", "n/a", "no encontrado":
			continue
		}
		return ref
	}
	return ""
}
