package models

import "testing"

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"LEFT", LEFT, false},
		{"right", RIGHT, false},
		{" Left ", LEFT, false},
		{"middle", LEFT, true},
		{"", LEFT, true},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSide(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSide(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSource(t *testing.T) {
	if s, err := ParseSource("external"); err != nil || s != EXTERNAL {
		t.Errorf("ParseSource(external) = (%v, %v)", s, err)
	}
	if _, err := ParseSource("bogus"); err == nil {
		t.Error("ParseSource(bogus) should fail")
	}
}

func TestParseFilterKind(t *testing.T) {
	tests := []struct {
		in      string
		want    FilterKind
		wantErr bool
	}{
		{"", FilterNone, false},
		{"NONE", FilterNone, false},
		{"EMA", FilterEMA, false},
		{"SMA", FilterSMA, false},
		{"median", FilterNone, true},
	}
	for _, tt := range tests {
		got, err := ParseFilterKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFilterKind(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFilterKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStringers(t *testing.T) {
	if LEFT.String() != "LEFT" || RIGHT.String() != "RIGHT" {
		t.Error("Side.String mismatch")
	}
	if INTERNAL.String() != "INTERNAL" || EXTERNAL.String() != "EXTERNAL" {
		t.Error("Source.String mismatch")
	}
	if FilterEMA.String() != "EMA" {
		t.Error("FilterKind.String mismatch")
	}
}
