package domain

import "regexp"

// Profile carries the dietary preferences that influence generated
// artifacts. DietTypes, Allergies and CulturalRestrictions feed the cache
// profile fingerprint; Extra is opaque to the core.
type Profile struct {
	DietTypes            []string
	Allergies            []string
	CulturalRestrictions []string
	HouseholdSize        int
	Extra                map[string]any
}

// Canonical option sets for profile fields.
var (
	DietOptions = map[string]bool{
		"Vegan":          true,
		"Vegetarian":     true,
		"Non-Vegetarian": true,
		"Gluten-Free":    true,
		"Keto/Low Carb":  true,
	}

	AllergyOptions = map[string]bool{
		"Dairy":   true,
		"Gluten":  true,
		"Nuts":    true,
		"Soy":     true,
		"Seafood": true,
	}

	CulturalRestrictionOptions = map[string]bool{
		"No Beef": true,
		"No Pork": true,
		"Halal":   true,
		"Jain":    true,
	}
)

var customAllergyRe = regexp.MustCompile(`^[a-zA-Z0-9\s\-]+$`)

// ValidateProfile checks profile fields against the option sets.
// Allergies outside the predefined set are accepted as custom entries up
// to 50 characters of letters, digits, spaces and hyphens.
func ValidateProfile(p Profile) error {
	for _, d := range p.DietTypes {
		if !DietOptions[d] {
			return ErrInvalidProfile("diet_types", "unknown diet type: "+d)
		}
	}
	for _, a := range p.Allergies {
		if AllergyOptions[a] {
			continue
		}
		if len(a) == 0 || len(a) > 50 {
			return ErrInvalidProfile("allergies", "custom allergy must be 1-50 characters")
		}
		if !customAllergyRe.MatchString(a) {
			return ErrInvalidProfile("allergies", "custom allergy has invalid characters: "+a)
		}
	}
	for _, c := range p.CulturalRestrictions {
		if !CulturalRestrictionOptions[c] {
			return ErrInvalidProfile("cultural_restrictions", "unknown restriction: "+c)
		}
	}
	if p.HouseholdSize < 0 {
		return ErrInvalidProfile("household_size", "must not be negative")
	}
	return nil
}
