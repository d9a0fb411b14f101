package platform

import "testing"

func TestGenerateUsernameBasic(t *testing.T) {
	got := GenerateUsername("Ada", "Lovelace", nil)
	if got != "ada.lovelace" {
		t.Errorf("username = %q, want %q", got, "ada.lovelace")
	}
}

func TestGenerateUsernameTruncatesToLimit(t *testing.T) {
	got := GenerateUsername("Maximiliana", "Wolfeschlegelsteinhausen", nil)
	if len(got) > MaxUsernameLen {
		t.Errorf("len(%q) = %d, want <= %d", got, len(got), MaxUsernameLen)
	}
}

func TestGenerateUsernameResolvesCollisions(t *testing.T) {
	occupied := map[string]bool{
		"ada.lovelace":  true,
		"ada.lovelace2": true,
	}
	got := GenerateUsername("Ada", "Lovelace", func(name string) bool { return occupied[name] })
	if got != "ada.lovelace3" {
		t.Errorf("username = %q, want %q", got, "ada.lovelace3")
	}
}

func TestGenerateUsernameShrinksTrunkForSuffix(t *testing.T) {
	long := GenerateUsername("Maximiliana", "Wolfeschlegelsteinhausen", nil)
	occupied := map[string]bool{long: true}
	got := GenerateUsername("Maximiliana", "Wolfeschlegelsteinhausen",
		func(name string) bool { return occupied[name] })
	if len(got) > MaxUsernameLen {
		t.Errorf("len(%q) = %d, want <= %d", got, len(got), MaxUsernameLen)
	}
	if got == long {
		t.Errorf("collision not resolved, got %q twice", got)
	}
}

func TestGenerateUsernameSanitizesInput(t *testing.T) {
	got := GenerateUsername("  Jean-Luc ", "O'Brien", nil)
	if got != "jean.luc.obrien" {
		t.Errorf("username = %q, want %q", got, "jean.luc.obrien")
	}
}
