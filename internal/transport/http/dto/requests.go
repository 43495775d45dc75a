package dto

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pantrylab/pantryd/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report field names as they appear on the wire.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct validation and converts the first violation into a
// domain error so the response shape stays uniform.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return domain.ErrInvalidField("body", err.Error())
	}
	fe := errs[0]
	if fe.Tag() == "required" {
		return domain.ErrMissingField(fe.Field())
	}
	return domain.ErrInvalidField(fe.Field(), "failed "+fe.Tag()+" constraint")
}

// -------- Auth --------

type ProfilePayload struct {
	DietTypes            []string       `json:"diet_types"`
	Allergies            []string       `json:"allergies"`
	CulturalRestrictions []string       `json:"cultural_restrictions"`
	HouseholdSize        int            `json:"household_size" validate:"gte=0,lte=50"`
	Extra                map[string]any `json:"extra"`
}

func (p ProfilePayload) Domain() domain.Profile {
	return domain.Profile{
		DietTypes:            p.DietTypes,
		Allergies:            p.Allergies,
		CulturalRestrictions: p.CulturalRestrictions,
		HouseholdSize:        p.HouseholdSize,
		Extra:                p.Extra,
	}
}

type RegisterRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required"`
	Profile  *ProfilePayload `json:"profile"`
}

func (r *RegisterRequest) Validate() error {
	r.Email = domain.NormalizeEmail(r.Email)
	return check(r)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Validate() error {
	r.Email = domain.NormalizeEmail(r.Email)
	return check(r)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (r *RefreshRequest) Validate() error { return check(r) }

type RevokeRequest struct {
	Token string `json:"token" validate:"required"`
}

func (r *RevokeRequest) Validate() error { return check(r) }

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *PasswordResetRequest) Validate() error {
	r.Email = domain.NormalizeEmail(r.Email)
	return check(r)
}

type PasswordResetCompleteRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (r *PasswordResetCompleteRequest) Validate() error { return check(r) }

type ProfileUpdateRequest struct {
	Profile ProfilePayload `json:"profile" validate:"required"`
}

func (r *ProfileUpdateRequest) Validate() error { return check(r) }

// -------- Grocery lists --------

type GroceryItemPayload struct {
	Name     string  `json:"name" validate:"required,max=200"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Unit     string  `json:"unit" validate:"max=20"`
	Checked  bool    `json:"checked"`
}

func (p GroceryItemPayload) Domain() domain.GroceryItem {
	return domain.GroceryItem{
		Name:     p.Name,
		Quantity: p.Quantity,
		Unit:     p.Unit,
		Checked:  p.Checked,
	}
}

func itemsToDomain(payloads []GroceryItemPayload) []domain.GroceryItem {
	items := make([]domain.GroceryItem, 0, len(payloads))
	for _, p := range payloads {
		items = append(items, p.Domain())
	}
	return items
}

type GroceryCreateRequest struct {
	Name  string               `json:"name" validate:"required,max=100"`
	Items []GroceryItemPayload `json:"items" validate:"dive"`
}

func (r *GroceryCreateRequest) Validate() error { return check(r) }

func (r *GroceryCreateRequest) DomainItems() []domain.GroceryItem { return itemsToDomain(r.Items) }

type GroceryUpdateRequest struct {
	Items           []GroceryItemPayload `json:"items" validate:"dive"`
	ExpectedVersion int64                `json:"expected_version" validate:"required,gte=1"`
}

func (r *GroceryUpdateRequest) Validate() error { return check(r) }

func (r *GroceryUpdateRequest) DomainItems() []domain.GroceryItem { return itemsToDomain(r.Items) }

type GroceryAddItemRequest struct {
	Item GroceryItemPayload `json:"item" validate:"required"`
}

func (r *GroceryAddItemRequest) Validate() error { return check(r) }

// -------- Ordering --------

type OrderItemPayload struct {
	Name     string  `json:"name" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Unit     string  `json:"unit"`
}

type OrderRequest struct {
	RawList  string             `json:"raw_list"`
	Items    []OrderItemPayload `json:"items" validate:"dive"`
	Checkout bool               `json:"checkout"`
}

func (r *OrderRequest) Validate() error {
	if strings.TrimSpace(r.RawList) == "" && len(r.Items) == 0 {
		return domain.ErrMissingField("raw_list")
	}
	return check(r)
}
