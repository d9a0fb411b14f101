package engine

import (
	"testing"

	"admitHub/internal/database"
)

func TestValidPostalCode(t *testing.T) {
	tests := []struct {
		country string
		code    string
		want    bool
	}{
		{"US", "94110", true},
		{"US", "94110-12345", true},
		{"us", "94110", true},
		{"US", "9411", false},
		{"US", "94110-123", false},
		{"US", "ABCDE", false},
		{"CA", "K1A 0B1", true},
		{"CA", "K1A0B1", true},
		{"CA", "k1a 0b1", true},
		{"CA", "K1A 0B", false},
		{"CA", "12345", false},
		{"DE", "10115", true},
		{"DE", "anything-goes", true},
		{"DE", "", false},
		{"US", "  ", false},
	}
	for _, tt := range tests {
		if got := ValidPostalCode(tt.country, tt.code); got != tt.want {
			t.Errorf("ValidPostalCode(%q, %q) = %v, want %v", tt.country, tt.code, got, tt.want)
		}
	}
}

func TestProfileComplete(t *testing.T) {
	complete := func() *database.User {
		return &database.User{
			FirstName:   "Ada",
			LastName:    "Lovelace",
			Phone:       "+14155551234",
			Country:     "US",
			City:        "San Francisco",
			AddressLine: "1 Market St",
			PostalCode:  "94110",
		}
	}

	if !ProfileComplete(complete()) {
		t.Fatal("fully filled profile must be complete")
	}

	mutations := map[string]func(*database.User){
		"first name": func(u *database.User) { u.FirstName = " " },
		"last name":  func(u *database.User) { u.LastName = "" },
		"phone":      func(u *database.User) { u.Phone = "" },
		"country":    func(u *database.User) { u.Country = "" },
		"city":       func(u *database.User) { u.City = "" },
		"address":    func(u *database.User) { u.AddressLine = "" },
		"postal":     func(u *database.User) { u.PostalCode = "9411" },
	}
	for name, mutate := range mutations {
		u := complete()
		mutate(u)
		if ProfileComplete(u) {
			t.Errorf("profile missing %s must be incomplete", name)
		}
	}
}
