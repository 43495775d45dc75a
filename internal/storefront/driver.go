// Package storefront defines the contract between the ordering pipeline
// and the store automation drivers. Drivers own a per-user browser or
// API session; the pipeline never touches the store directly.
package storefront

import "context"

// Item is one normalized grocery atom: what to buy, how much, in what
// unit. Produced by the preprocessing stage, consumed by search.
type Item struct {
	Name     string  `json:"item_name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// Product is one search-result candidate. PackSize is normalized to the
// queried item's unit when the driver can tell, zero otherwise.
type Product struct {
	ID        string
	Name      string
	Price     float64
	PackSize  float64
	HasOffer  bool
	Available bool
}

// CartSnapshot carries the orthogonal signals the pipeline uses to
// confirm the cart is non-empty. Each field is an independent
// observation; any one of them can confirm.
type CartSnapshot struct {
	HasBillDetails bool
	ContainerCount int
	BadgeCount     int
	VisibleNames   []string
}

// Address is a saved delivery address.
type Address struct {
	ID    string
	Label string
	Line  string
}

// PaymentMethod is a saved payment instrument. Label may carry partial
// digits; callers mask it before logging.
type PaymentMethod struct {
	ID    string
	Label string
}

// Driver is a live store session bound to one application user. All
// methods may block on automation I/O and honor ctx cancellation.
// Implementations are not safe for concurrent use; the session registry
// serializes access per user.
type Driver interface {
	// Alive reports whether the underlying session handle is still
	// usable. A false return means the registry should rebuild the
	// driver.
	Alive(ctx context.Context) bool
	Close(ctx context.Context) error

	// LoggedIn reports whether the store recognizes the session as
	// authenticated.
	LoggedIn(ctx context.Context) (bool, error)

	Search(ctx context.Context, query string) ([]Product, error)
	AddToCart(ctx context.Context, productID string) error
	Cart(ctx context.Context) (CartSnapshot, error)

	Addresses(ctx context.Context) ([]Address, error)
	PaymentMethods(ctx context.Context) ([]PaymentMethod, error)
	// SubmitOrder places the order and returns the store's order id.
	// A closed store surfaces as domain.ErrStoreClosed.
	SubmitOrder(ctx context.Context, addressID, paymentID string) (string, error)
}

// Factory builds a Driver for a user, rooted at the user's auth state
// path so sessions never leak across users.
type Factory func(username, authStatePath string) (Driver, error)
