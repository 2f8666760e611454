package encoding

import "testing"

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("state = \"idle\""), "state = \"idle\""},
		{"utf8", []byte("state = \"caf\xc3\xa9\""), "state = \"café\""},
		{"latin1", []byte("state = \"caf\xe9\""), "state = \"café\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeText(tt.in); got != tt.want {
				t.Errorf("DecodeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFoldKey(t *testing.T) {
	if FoldKey("WalK") != FoldKey("walk") {
		t.Errorf("expected case-insensitive keys to match")
	}
	if FoldKey("ÉCOLE") != FoldKey("école") {
		t.Errorf("expected non-ASCII folding, got %q and %q", FoldKey("ÉCOLE"), FoldKey("école"))
	}
}
