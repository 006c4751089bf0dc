// Package domain contains core domain types for the padel booking assistant.
package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the wire and storage format for calendar days.
	DateLayout = "2006-01-02"
	// SlotLayout is the wire and storage format for slot start times.
	SlotLayout = "15:04"

	firstSlotMinute = 8 * 60
	lastSlotMinute  = 24 * 60
	slotMinutes     = 90
)

// ClubZone is the club's wall clock: Argentina, fixed UTC-3 without DST.
var ClubZone = time.FixedZone("ART", -3*60*60)

var courts = map[int]string{
	1: "Cancha 1 - Interior cemento",
	2: "Cancha 2 - Interior cemento",
	3: "Cancha 3 - Interior cemento",
	4: "Cancha 4 - Exterior blindex y cesped",
}

var slots = generateSlots()

func generateSlots() []string {
	var out []string
	for m := firstSlotMinute; m < lastSlotMinute; m += slotMinutes {
		out = append(out, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return out
}

// Club holds the business facts quoted to users and used for payment checks.
type Club struct {
	Name         string
	Deposit      int
	Payee        string
	AdminContact string
	Location     *time.Location
}

// DefaultClub returns the club configuration used when nothing is overridden.
func DefaultClub() Club {
	return Club{
		Name:         "Los Ciruelos Padel",
		Deposit:      10000,
		Payee:        "Alejandro Santillan",
		AdminContact: "@franv4",
		Location:     ClubZone,
	}
}

// Now returns the current time on the club's wall clock.
func (c Club) Now() time.Time {
	loc := c.Location
	if loc == nil {
		loc = ClubZone
	}
	return time.Now().In(loc)
}

// CourtIDs returns the configured court ids in ascending order.
func CourtIDs() []int {
	ids := make([]int, 0, len(courts))
	for id := range courts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CourtName returns the display name of a court, or a generic label for unknown ids.
func CourtName(id int) string {
	if name, ok := courts[id]; ok {
		return name
	}
	return "Cancha " + strconv.Itoa(id)
}

// IsCourt reports whether id belongs to the configured court set.
func IsCourt(id int) bool {
	_, ok := courts[id]
	return ok
}

// Slots returns the enumerated valid slot start times.
func Slots() []string {
	out := make([]string, len(slots))
	copy(out, slots)
	return out
}

// IsSlot reports whether t is one of the enumerated slot start times.
func IsSlot(t string) bool {
	for _, s := range slots {
		if s == t {
			return true
		}
	}
	return false
}

// IsDate reports whether d is a calendar day in DateLayout.
func IsDate(d string) bool {
	_, err := time.Parse(DateLayout, d)
	return err == nil
}

// SlotStart resolves a (date, slot) pair to an instant in loc.
func SlotStart(date, slot string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+SlotLayout, date+" "+slot, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot %s %s: %w", date, slot, err)
	}
	return t, nil
}

// FormatAmount renders an integer peso amount with Argentine thousands separators.
func FormatAmount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
