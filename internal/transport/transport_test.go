package transport

import "testing"

func TestParseSudoIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []int64
	}{
		{"single", "12345", []int64{12345}},
		{"multiple with spaces", "1, 2 ,3", []int64{1, 2, 3}},
		{"empty", "", nil},
		{"malformed entries skipped", "7,abc,,9", []int64{7, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := ParseSudoIDs(tt.raw)
			if len(set) != len(tt.want) {
				t.Fatalf("parsed %d ids, want %d", len(set), len(tt.want))
			}
			for _, id := range tt.want {
				if !set.IsSudo(id) {
					t.Errorf("IsSudo(%d) = false, want true", id)
				}
			}
		})
	}
}

func TestSudoSetRejectsOthers(t *testing.T) {
	set := ParseSudoIDs("42")
	if set.IsSudo(43) {
		t.Error("non-member reported as sudo")
	}
}

func TestParseBotIDs(t *testing.T) {
	set := ParseBotIDs("42, 77,, bogus, 9000")
	if len(set) != 3 {
		t.Fatalf("parsed %d ids, want 3", len(set))
	}
	if !set.Allowed(42) || !set.Allowed(77) || !set.Allowed(9000) {
		t.Error("allow-listed bot not recognized")
	}
	if set.Allowed(1) {
		t.Error("unlisted bot reported as allowed")
	}
}
