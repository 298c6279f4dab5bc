package fsutil

import (
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home) // windows equivalent

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/var/lib/promptd/stats.db", "/var/lib/promptd/stats.db"},
		{"~", home},
		{"~/promptd/stats.db", filepath.Join(home, "promptd", "stats.db")},
	}
	for _, tc := range cases {
		got, err := ExpandHome(tc.in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
