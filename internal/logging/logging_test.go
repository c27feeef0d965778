package logging

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"", "", false},
		{"debug", "console", false},
		{"warn", "json", false},
		{"loud", "console", true},
		{"info", "xml", true},
	}

	for _, tt := range tests {
		log, err := New(tt.level, tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q, %q) err = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
			continue
		}
		if err == nil && log == nil {
			t.Errorf("New(%q, %q) logger가 nil", tt.level, tt.format)
		}
	}
}

func TestNewLevel(t *testing.T) {
	log, err := New("warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(-1) {
		t.Error("warn 레벨에서 debug가 활성화됨")
	}
}
