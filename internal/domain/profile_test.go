package domain

import (
	"strings"
	"testing"
)

func TestValidateProfile_Valid(t *testing.T) {
	p := Profile{
		DietTypes:            []string{"Vegetarian", "Gluten-Free"},
		Allergies:            []string{"Nuts", "wild mushroom"},
		CulturalRestrictions: []string{"Halal"},
		HouseholdSize:        4,
	}

	if err := ValidateProfile(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateProfile_UnknownDiet(t *testing.T) {
	err := ValidateProfile(Profile{DietTypes: []string{"Carnivore"}})
	if !Is(err, "invalid_profile") {
		t.Fatalf("expected invalid_profile, got %v", err)
	}
}

func TestValidateProfile_CustomAllergyTooLong(t *testing.T) {
	err := ValidateProfile(Profile{Allergies: []string{strings.Repeat("a", 51)}})
	if !Is(err, "invalid_profile") {
		t.Fatalf("expected invalid_profile, got %v", err)
	}
}

func TestValidateProfile_CustomAllergyBadCharset(t *testing.T) {
	err := ValidateProfile(Profile{Allergies: []string{"shell<script>"}})
	if !Is(err, "invalid_profile") {
		t.Fatalf("expected invalid_profile, got %v", err)
	}
}

func TestValidateProfile_UnknownRestriction(t *testing.T) {
	err := ValidateProfile(Profile{CulturalRestrictions: []string{"No Dairy"}})
	if !Is(err, "invalid_profile") {
		t.Fatalf("expected invalid_profile, got %v", err)
	}
}
