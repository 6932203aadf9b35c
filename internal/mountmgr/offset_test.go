package mountmgr

import "testing"

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"479983104", 479983104, false},
		{"0x1C9BF600", 479983104, false},
		{"0X1c9bf600", 479983104, false},
		{" 2048 ", 2048, false},
		{"0x0", 0, false},
		{"-5", 0, true},
		{"0x-5", 0, true},
		{"0x", 0, true},
		{"sector7", 0, true},
		{"12.5", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseOffset(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseOffset(%q) = %d, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOffset(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOffset(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
