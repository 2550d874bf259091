package domain

import (
	"testing"
	"time"
)

func TestCivilDateStringAndParse(t *testing.T) {
	d := NewCivilDate(2025, time.March, 7)
	if got := d.String(); got != "2025-03-07" {
		t.Fatalf("String() = %q", got)
	}

	parsed, err := ParseCivilDate("2025-03-07")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != d {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, d)
	}

	if _, err := ParseCivilDate("07/03/2025"); err == nil {
		t.Fatalf("expected error for non-ISO input")
	}
}

func TestCivilDateMidnight(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	at := NewCivilDate(2025, time.January, 1).Midnight(loc)
	if at.Hour() != 0 || at.Location() != loc {
		t.Fatalf("unexpected midnight instant: %v", at)
	}
	if NewCivilDate(2025, time.January, 1).IsZero() {
		t.Fatalf("populated date reported zero")
	}
	if !(CivilDate{}).IsZero() {
		t.Fatalf("zero value not reported zero")
	}
}
