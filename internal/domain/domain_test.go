package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSlotsEveryNinetyMinutes(t *testing.T) {
	want := []string{"08:00", "09:30", "11:00", "12:30", "14:00", "15:30", "17:00", "18:30", "20:00", "21:30", "23:00"}
	got := Slots()
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if IsSlot("21:00") {
		t.Error("21:00 must not be a valid slot")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int]string{
		0:       "0",
		500:     "500",
		10000:   "10.000",
		30000:   "30.000",
		1234567: "1.234.567",
	}
	for in, want := range tests {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestReservationInitials(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"juan perez", "JP"},
		{"Ana", "A"},
		{"maria jose gonzalez", "MJ"},
		{"  ñandu  rojo ", "ÑR"},
	}
	for _, tt := range tests {
		r := Reservation{ClientName: tt.name}
		if got := r.Initials(); got != tt.want {
			t.Errorf("Initials(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, ClubZone)
	since := now.Add(-61 * time.Minute)

	s := NewSession("549111")
	s.BeginAwaiting([]Draft{{Date: "2026-03-02", Time: "20:00", CourtID: 1, Name: "Juan", Phone: "11"}}, since)

	if !s.Expired(now, 60*time.Minute) {
		t.Fatal("expected session to be expired after 61 minutes")
	}
	if s.Expired(since.Add(59*time.Minute), 60*time.Minute) {
		t.Fatal("session should not expire before the timeout")
	}

	s.ResetAwaiting()
	if s.AwaitingProof || s.Pending != nil || s.AwaitingSince != nil {
		t.Fatalf("reset left awaiting state behind: %+v", s)
	}
	if s.Expired(now, 60*time.Minute) {
		t.Fatal("idle session can never expire")
	}
}

func TestSessionTrimHistoryDropsOldest(t *testing.T) {
	s := NewSession("u")
	for i := 0; i < 25; i++ {
		s.Append(Turn{Role: RoleUser, Content: string(rune('a' + i))})
	}
	s.TrimHistory(20)
	if len(s.History) != 20 {
		t.Fatalf("expected 20 turns, got %d", len(s.History))
	}
	if s.History[0].Content != "f" {
		t.Errorf("expected oldest kept turn to be 'f', got %q", s.History[0].Content)
	}
}

func TestRememberIdentityIsSticky(t *testing.T) {
	s := NewSession("u")
	s.RememberIdentity("Juan Perez", "1122334455")
	s.RememberIdentity("Otro", "999")
	if s.ConfirmedName != "Juan Perez" || s.ConfirmedPhone != "1122334455" {
		t.Fatalf("identity was overwritten: %q %q", s.ConfirmedName, s.ConfirmedPhone)
	}
}

func TestDraftValidate(t *testing.T) {
	ok := Draft{Date: "2026-03-02", Time: "20:00", CourtID: 4, Name: "Juan", Phone: "11"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}

	bad := []Draft{
		{Date: "02/03/2026", Time: "20:00", CourtID: 1, Name: "J", Phone: "1"},
		{Date: "2026-03-02", Time: "20:30", CourtID: 1, Name: "J", Phone: "1"},
		{Date: "2026-03-02", Time: "20:00", CourtID: 5, Name: "J", Phone: "1"},
		{Date: "2026-03-02", Time: "20:00", CourtID: 1, Phone: "1"},
		{Date: "2026-03-02", Time: "20:00", CourtID: 1, Name: "J"},
	}
	for i, d := range bad {
		err := d.Validate()
		if err == nil {
			t.Errorf("draft %d: expected validation error", i)
			continue
		}
		if !errors.Is(err, errInvalidField) && !errors.Is(err, errMissingField) {
			t.Errorf("draft %d: unexpected error type %v", i, err)
		}
	}
}

func TestIdentityFromAction(t *testing.T) {
	name, phone := Identity(PrepareBatch{Drafts: []Draft{{Name: "Ana", Phone: "22"}, {Name: "Otro", Phone: "33"}}})
	if name != "Ana" || phone != "22" {
		t.Fatalf("expected first draft identity, got %q %q", name, phone)
	}
	if name, phone := Identity(ViewGrid{Date: "2026-03-02"}); name != "" || phone != "" {
		t.Fatalf("grid action carries no identity, got %q %q", name, phone)
	}
}
