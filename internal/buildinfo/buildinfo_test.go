package buildinfo

import "testing"

func stamp(t *testing.T, version, commit string) {
	t.Helper()
	v, c := Version, Commit
	t.Cleanup(func() { Version, Commit = v, c })
	Version, Commit = version, commit
}

func TestShort(t *testing.T) {
	cases := []struct {
		version, commit, want string
	}{
		{"dev", "unknown", "dev"},
		{"v1.2.0", "0123456789abcdef", "v1.2.0"},
		{"dev", "0123456789abcdef", "0123456"},
		{"", "abc", "abc"},
	}
	for _, c := range cases {
		stamp(t, c.version, c.commit)
		if got := Short(); got != c.want {
			t.Fatalf("Short() with %q/%q = %q, want %q", c.version, c.commit, got, c.want)
		}
	}
}

func TestStringAndFields(t *testing.T) {
	stamp(t, "v0.3.0", "feedfacecafe")
	if got, want := String(), "ember v0.3.0 (commit feedfac, built "+Date+")"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if n := len(Fields()); n != 3 {
		t.Fatalf("len(Fields()) = %d, want 3", n)
	}
}
