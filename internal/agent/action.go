package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ciruelos/padelbot/internal/domain"
)

const (
	actionOpen  = "<ACCION>"
	actionClose = "</ACCION>"
)

// ErrUnknownAction is returned for an action block with an unrecognized tag.
var ErrUnknownAction = errors.New("unknown action type")

// SplitAction removes the first <ACCION>...</ACCION> block from raw and
// returns the remaining text and the block body.
func SplitAction(raw string) (text, block string, found bool) {
	i := strings.Index(raw, actionOpen)
	if i < 0 {
		return strings.TrimSpace(raw), "", false
	}
	rest := raw[i+len(actionOpen):]
	j := strings.Index(rest, actionClose)
	if j < 0 {
		return strings.TrimSpace(raw), "", false
	}
	block = strings.TrimSpace(rest[:j])
	text = strings.TrimSpace(raw[:i] + rest[j+len(actionClose):])
	return text, block, true
}

// ExtractAction splits raw into reply text and a validated action. When an
// action block is present but unusable, the action is nil and err says why.
func ExtractAction(raw string) (string, domain.Action, error) {
	text, block, found := SplitAction(raw)
	if !found {
		return text, nil, nil
	}
	action, err := ParseAction(block)
	if err != nil {
		return text, nil, err
	}
	return text, action, nil
}

// ParseAction decodes an action JSON object. Spanish and English field
// names are both accepted.
func ParseAction(block string) (domain.Action, error) {
	block = strings.TrimSpace(block)
	block = strings.TrimPrefix(block, "```json")
	block = strings.TrimPrefix(block, "```")
	block = strings.TrimSuffix(block, "```")

	var w wireAction
	dec := json.NewDecoder(bytes.NewReader([]byte(block)))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	action, err := w.action()
	if err != nil {
		return nil, err
	}
	if err := action.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s action: %w", action.Kind(), err)
	}
	return action, nil
}

type wireDraft struct {
	Fecha    string     `json:"fecha"`
	Date     string     `json:"date"`
	Hora     string     `json:"hora"`
	Time     string     `json:"time"`
	CanchaID flexInt    `json:"cancha_id"`
	CourtID  flexInt    `json:"court_id"`
	Nombre   string     `json:"nombre"`
	Name     string     `json:"name"`
	Telefono flexString `json:"telefono"`
	Phone    flexString `json:"phone"`
}

func (w wireDraft) draft() domain.Draft {
	return domain.Draft{
		Date:    first(w.Fecha, w.Date),
		Time:    first(w.Hora, w.Time),
		CourtID: int(firstInt(w.CanchaID, w.CourtID)),
		Name:    strings.TrimSpace(first(w.Nombre, w.Name)),
		Phone:   strings.TrimSpace(first(string(w.Telefono), string(w.Phone))),
	}
}

type wireAction struct {
	Tipo string `json:"tipo"`
	Type string `json:"type"`

	wireDraft

	Reservas       []wireDraft `json:"reservas"`
	Reservations   []wireDraft `json:"reservations"`
	ReservaID      flexInt     `json:"reserva_id"`
	ReservationID  flexInt     `json:"reservation_id"`
	ReservaIDs     []flexInt   `json:"reserva_ids"`
	ReservationIDs []flexInt   `json:"reservation_ids"`
	Motivo         string      `json:"motivo"`
	Reason         string      `json:"reason"`
}

var actionTags = map[string]domain.ActionKind{
	"preparar_reserva":              domain.KindPrepareReservation,
	"prepare_reservation":           domain.KindPrepareReservation,
	"preparar_multiples_reservas":   domain.KindPrepareBatch,
	"prepare_multiple_reservations": domain.KindPrepareBatch,
	"consultar_disponibilidad":      domain.KindCheckAvailability,
	"consult_availability":          domain.KindCheckAvailability,
	"consultar_reservas":            domain.KindListReservations,
	"consult_reservations":          domain.KindListReservations,
	"cancelar_reserva":              domain.KindCancelReservation,
	"cancel_reservation":            domain.KindCancelReservation,
	"cancelar_multiples_reservas":   domain.KindCancelReservations,
	"cancel_multiple_reservations":  domain.KindCancelReservations,
	"ver_grilla":                    domain.KindViewGrid,
	"view_grid":                     domain.KindViewGrid,
	"derivar_humano":                domain.KindEscalateToHuman,
	"escalate_to_human":             domain.KindEscalateToHuman,
}

func (w wireAction) action() (domain.Action, error) {
	tag := strings.ToLower(strings.TrimSpace(first(w.Tipo, w.Type)))
	kind, ok := actionTags[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, tag)
	}

	switch kind {
	case domain.KindPrepareReservation:
		return domain.PrepareReservation{Draft: w.draft()}, nil
	case domain.KindPrepareBatch:
		items := w.Reservas
		if len(items) == 0 {
			items = w.Reservations
		}
		drafts := make([]domain.Draft, 0, len(items))
		for _, it := range items {
			drafts = append(drafts, it.draft())
		}
		return domain.PrepareBatch{Drafts: drafts}, nil
	case domain.KindCheckAvailability:
		d := w.draft()
		return domain.CheckAvailability{Date: d.Date, Time: d.Time}, nil
	case domain.KindListReservations:
		return domain.ListReservations{Phone: w.draft().Phone}, nil
	case domain.KindCancelReservation:
		return domain.CancelReservation{ID: firstInt(w.ReservaID, w.ReservationID)}, nil
	case domain.KindCancelReservations:
		raw := w.ReservaIDs
		if len(raw) == 0 {
			raw = w.ReservationIDs
		}
		ids := make([]int64, 0, len(raw))
		for _, id := range raw {
			ids = append(ids, int64(id))
		}
		return domain.CancelReservations{IDs: ids}, nil
	case domain.KindViewGrid:
		return domain.ViewGrid{Date: w.draft().Date}, nil
	case domain.KindEscalateToHuman:
		reason := strings.TrimSpace(first(w.Motivo, w.Reason))
		if reason == "" {
			reason = "Sin especificar"
		}
		return domain.EscalateToHuman{Reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, tag)
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.TrimPrefix(s, "#")
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		v, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("not an integer: %s", b)
		}
		n = int64(v)
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts a JSON string or a bare number, as models sometimes
// emit phone numbers unquoted.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexString(s)
	return nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstInt(vals ...flexInt) int64 {
	for _, v := range vals {
		if v != 0 {
			return int64(v)
		}
	}
	return 0
}
