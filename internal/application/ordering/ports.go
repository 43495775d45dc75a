package ordering

import (
	"context"
	"errors"

	"github.com/pantrylab/pantryd/internal/storefront"
)

var (
	errNoAddress = errors.New("no saved address")
	errNoPayment = errors.New("no saved payment method")
)

// Sessions is the slice of the external session registry the pipeline
// needs: acquire a live driver, drop a dead one.
type Sessions interface {
	Get(ctx context.Context, username string) (storefront.Driver, error)
	Clear(ctx context.Context, username string) (bool, error)
}

// LoginCache remembers that a user's storefront login was verified
// recently, so each pipeline run does not re-check. Satisfied by the
// redis and memory login caches.
type LoginCache interface {
	MarkVerified(ctx context.Context, account string)
	IsFresh(ctx context.Context, account string) bool
	Clear(ctx context.Context, account string)
}

// Normalizer turns a free-form grocery list into structured text. The
// external AI collaborator sits behind this port; its output is
// best-effort and goes through strict parsing with a raw-list fallback.
type Normalizer interface {
	Normalize(ctx context.Context, rawList string) (string, error)
}

// Chooser selects among saved addresses and payment methods at
// checkout. Interactive deployments prompt the user; headless ones pick
// the first entry.
type Chooser interface {
	ChooseAddress(ctx context.Context, addrs []storefront.Address) (storefront.Address, error)
	ChoosePayment(ctx context.Context, methods []storefront.PaymentMethod) (storefront.PaymentMethod, error)
}

// History carries a user's purchase habits into variant ranking. All
// fields are optional; zero values simply contribute no score.
type History struct {
	// PurchasedNames holds exact product names bought before, lowercased.
	PurchasedNames map[string]bool
	// Brands holds brand tokens the user has bought before, lowercased.
	Brands map[string]bool
	// AvgPackSize maps an item name (lowercased) to the user's average
	// purchased pack size in the item's unit.
	AvgPackSize map[string]float64
}

// HistoryProvider resolves a user's purchase history for ranking. May
// return a zero History when nothing is known.
type HistoryProvider interface {
	HistoryFor(ctx context.Context, username string) (History, error)
}

// FirstChoice is the headless Chooser: first saved entry wins.
type FirstChoice struct{}

func (FirstChoice) ChooseAddress(ctx context.Context, addrs []storefront.Address) (storefront.Address, error) {
	if len(addrs) == 0 {
		return storefront.Address{}, errNoAddress
	}
	return addrs[0], nil
}

func (FirstChoice) ChoosePayment(ctx context.Context, methods []storefront.PaymentMethod) (storefront.PaymentMethod, error) {
	if len(methods) == 0 {
		return storefront.PaymentMethod{}, errNoPayment
	}
	return methods[0], nil
}

// NoHistory is the empty HistoryProvider.
type NoHistory struct{}

func (NoHistory) HistoryFor(ctx context.Context, username string) (History, error) {
	return History{}, nil
}
