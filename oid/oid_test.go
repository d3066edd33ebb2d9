package oid

import "testing"

func TestParseRoundTrip(t *testing.T) {
	const hex = "ce013625030ba8dba906f756967f9e9ca394464a"
	id, err := Parse(hex)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := id.String(); got != hex {
		t.Fatalf("String() = %q, want %q", got, hex)
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("deadbeef"); err == nil {
		t.Fatal("expected error for short hex string")
	}
}

func TestCompareAndLess(t *testing.T) {
	a := MustParse("000000000000000000000000000000000000000a")
	b := MustParse("000000000000000000000000000000000000000b")
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected a.Compare(a) == 0")
	}
}

func TestPrefixMatchEven(t *testing.T) {
	id := MustParse("ce013625030ba8dba906f756967f9e9ca394464a"[:40])
	p, err := ParsePrefix("ce0136")
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	if !p.Match(id) {
		t.Fatal("expected prefix to match")
	}
	other := MustParse("ffff3625030ba8dba906f756967f9e9ca394464a"[:40])
	if p.Match(other) {
		t.Fatal("expected prefix not to match unrelated id")
	}
}

func TestPrefixMatchOddNibble(t *testing.T) {
	id := MustParse("ce013625030ba8dba906f756967f9e9ca394464a"[:40])
	p, err := ParsePrefix("ce013")
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	if !p.Match(id) {
		t.Fatal("expected odd-length prefix to match")
	}
	if p.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", p.Len())
	}
}

func TestPrefixTooShort(t *testing.T) {
	if _, err := ParsePrefix("ce0"); err == nil {
		t.Fatal("expected error for prefix shorter than MinPrefix")
	}
}

func TestZero(t *testing.T) {
	var id ID
	if !id.IsZero() {
		t.Fatal("expected zero value to report IsZero")
	}
}
