package version

import "testing"

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	if got, want := String(), "1.2.3 (git unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
