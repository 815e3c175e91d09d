package ledger

import "testing"

func TestFormatTicketNumber(t *testing.T) {
	tests := []struct {
		prefix string
		n      int64
		want   string
	}{
		{prefix: "A", n: 1, want: "A001"},
		{prefix: "CS", n: 42, want: "CS042"},
		{prefix: "", n: 7, want: "007"},
		{prefix: "B", n: 1234, want: "B1234"},
	}
	for _, tt := range tests {
		if got := FormatTicketNumber(tt.prefix, tt.n); got != tt.want {
			t.Fatalf("FormatTicketNumber(%q, %d) = %q, want %q", tt.prefix, tt.n, got, tt.want)
		}
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "+15551230000", want: true},
		{value: "081234567890", want: true},
		{value: "12345678", want: true},
		{value: "1234567", want: false},
		{value: "12345678901234567", want: false},
		{value: "+1 555 123", want: false},
		{value: "++15551230000", want: false},
		{value: "", want: false},
	}
	for _, tt := range tests {
		if got := ValidPhone(tt.value); got != tt.want {
			t.Fatalf("ValidPhone(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
