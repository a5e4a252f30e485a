package knx

import (
	"errors"
	"testing"
)

func TestParseGroupAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    GroupAddress
		wantErr bool
	}{
		{name: "simple", input: "1/2/3", want: GroupAddress{1, 2, 3}},
		{name: "zero", input: "0/0/0", want: GroupAddress{0, 0, 0}},
		{name: "max values", input: "31/7/255", want: GroupAddress{31, 7, 255}},
		{name: "main too large", input: "32/0/0", wantErr: true},
		{name: "middle too large", input: "0/8/0", wantErr: true},
		{name: "sub too large", input: "0/0/256", wantErr: true},
		{name: "two levels", input: "1/2", wantErr: true},
		{name: "four levels", input: "1/2/3/4", wantErr: true},
		{name: "non-numeric", input: "a/b/c", wantErr: true},
		{name: "negative", input: "-1/2/3", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGroupAddress(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseGroupAddress(%q) expected error, got nil", tt.input)
				}
				if !errors.Is(err, ErrInvalidGroupAddress) {
					t.Errorf("error = %v, want ErrInvalidGroupAddress", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseGroupAddress(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseGroupAddress(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGroupAddressString(t *testing.T) {
	ga := GroupAddress{Main: 5, Middle: 0, Sub: 12}
	if got := ga.String(); got != "5/0/12" {
		t.Errorf("String() = %q, want %q", got, "5/0/12")
	}
}

func TestGroupAddressUint16RoundTrip(t *testing.T) {
	tests := []GroupAddress{
		{0, 0, 0},
		{1, 2, 3},
		{31, 7, 255},
		{15, 4, 128},
	}

	for _, ga := range tests {
		t.Run(ga.String(), func(t *testing.T) {
			got := GroupAddressFromUint16(ga.ToUint16())
			if got != ga {
				t.Errorf("round trip = %v, want %v", got, ga)
			}
		})
	}
}

func TestGroupAddressToUint16Layout(t *testing.T) {
	// 1/2/3 = 00001 010 00000011 = 0x0A03
	ga := GroupAddress{Main: 1, Middle: 2, Sub: 3}
	if got := ga.ToUint16(); got != 0x0A03 {
		t.Errorf("ToUint16() = 0x%04X, want 0x0A03", got)
	}
}

func TestGroupAddressIsZero(t *testing.T) {
	if !(GroupAddress{}).IsZero() {
		t.Error("zero address IsZero() = false")
	}
	if (GroupAddress{Main: 1}).IsZero() {
		t.Error("non-zero address IsZero() = true")
	}
}
