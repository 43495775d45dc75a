package dto

import (
	"time"

	"github.com/pantrylab/pantryd/internal/application/auth"
	"github.com/pantrylab/pantryd/internal/application/ordering"
	"github.com/pantrylab/pantryd/internal/domain"
)

// -------- Auth --------

type TokensView struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

func NewTokensView(pair *auth.TokenPair) TokensView {
	return TokensView{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

type AuthData struct {
	UserID           string     `json:"user_id"`
	Email            string     `json:"email"`
	NewUser          bool       `json:"new_user,omitempty"`
	PasswordStrength *int       `json:"password_strength,omitempty"`
	Tokens           TokensView `json:"tokens"`
}

type UserView struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	AuthProvider  string         `json:"auth_provider"`
	HasPassword   bool           `json:"has_password"`
	Profile       ProfilePayload `json:"profile"`
	CreatedAt     time.Time      `json:"created_at"`
}

func NewUserView(u domain.User) UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		AuthProvider:  u.AuthProvider,
		HasPassword:   u.PasswordHash != nil,
		Profile: ProfilePayload{
			DietTypes:            u.Profile.DietTypes,
			Allergies:            u.Profile.Allergies,
			CulturalRestrictions: u.Profile.CulturalRestrictions,
			HouseholdSize:        u.Profile.HouseholdSize,
			Extra:                u.Profile.Extra,
		},
		CreatedAt: u.CreatedAt,
	}
}

type OAuthStartData struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// -------- Grocery lists --------

type GroceryItemView struct {
	Name     string    `json:"name"`
	Quantity float64   `json:"quantity"`
	Unit     string    `json:"unit,omitempty"`
	Checked  bool      `json:"checked"`
	AddedAt  time.Time `json:"added_at"`
}

type GroceryListView struct {
	Name      string            `json:"name"`
	Items     []GroceryItemView `json:"items"`
	Version   int64             `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func NewGroceryListView(l domain.GroceryList) GroceryListView {
	items := make([]GroceryItemView, 0, len(l.Items))
	for _, it := range l.Items {
		items = append(items, GroceryItemView{
			Name:     it.Name,
			Quantity: it.Quantity,
			Unit:     it.Unit,
			Checked:  it.Checked,
			AddedAt:  it.AddedAt,
		})
	}
	return GroceryListView{
		Name:      l.Name,
		Items:     items,
		Version:   l.Version,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func NewGroceryListViews(lists []domain.GroceryList) []GroceryListView {
	out := make([]GroceryListView, 0, len(lists))
	for _, l := range lists {
		out = append(out, NewGroceryListView(l))
	}
	return out
}

// -------- Ordering --------

type OrderOutcomeView struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
	Added    bool    `json:"added"`
	Product  string  `json:"product,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

type OrderReportView struct {
	Outcomes     []OrderOutcomeView `json:"outcomes"`
	Added        int                `json:"added"`
	Retries      int                `json:"retries"`
	Dropped      []string           `json:"dropped,omitempty"`
	Fallback     bool               `json:"fallback"`
	CartVerified bool               `json:"cart_verified"`
	OrderID      string             `json:"order_id,omitempty"`
}

func NewOrderReportView(r ordering.Report) OrderReportView {
	outcomes := make([]OrderOutcomeView, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		outcomes = append(outcomes, OrderOutcomeView{
			Item:     o.Item.Name,
			Quantity: o.Item.Quantity,
			Added:    o.Added,
			Product:  o.Product,
			Reason:   o.Reason,
		})
	}
	return OrderReportView{
		Outcomes:     outcomes,
		Added:        r.Added,
		Retries:      r.Retries,
		Dropped:      r.Dropped,
		Fallback:     r.Fallback,
		CartVerified: r.CartVerified,
		OrderID:      r.OrderID,
	}
}

// -------- Health --------

type BreakerView struct {
	State    string `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"consecutive_failures"`
}

type HealthData struct {
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Camera   *BreakerView `json:"camera_breaker,omitempty"`
}
