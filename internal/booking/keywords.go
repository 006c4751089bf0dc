package booking

import "strings"

// cancelKeywords end the awaiting-proof flow when found anywhere in a
// message. Substring matching is approximate: "no quiero pagar todavía"
// also cancels.
var cancelKeywords = []string{
	"cancelar",
	"cancel",
	"no quiero",
	"olvidate",
	"dejalo",
	"salir",
	"no importa",
	"abort",
}

// IsCancelRequest reports whether text asks to abandon a pending booking.
func IsCancelRequest(text string) bool {
	t := strings.ToLower(text)
	for _, k := range cancelKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}
