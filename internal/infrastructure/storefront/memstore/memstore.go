// Package memstore is a deterministic in-process storefront driver. It
// backs STOREFRONT_DRIVER=memstore deployments (demos, CI) and the
// ordering pipeline's tests: same contract as a browser-automation
// driver, none of the flakiness.
package memstore

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/storefront"
)

// Catalog is the shared product inventory behind every driver built by
// one Factory. Mutations (closing the store, delisting a product) apply
// to all users immediately, like a real storefront.
type Catalog struct {
	mu        sync.Mutex
	products  []storefront.Product
	addresses []storefront.Address
	payments  []storefront.PaymentMethod
	storeOpen bool
	orderSeq  int
}

func NewCatalog(products []storefront.Product) *Catalog {
	return &Catalog{
		products: products,
		addresses: []storefront.Address{
			{ID: "addr-1", Label: "Home", Line: "12 Test Lane"},
		},
		payments: []storefront.PaymentMethod{
			{ID: "pay-1", Label: "Card ending 4242"},
		},
		storeOpen: true,
	}
}

// SetStoreOpen flips the store's accepting-orders state.
func (c *Catalog) SetStoreOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeOpen = open
}

// SetAddresses replaces the saved addresses returned to every driver.
func (c *Catalog) SetAddresses(addrs []storefront.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses = addrs
}

// SetPayments replaces the saved payment methods.
func (c *Catalog) SetPayments(ms []storefront.PaymentMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments = ms
}

func (c *Catalog) search(query string) []storefront.Product {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var out []storefront.Product
	for _, p := range c.products {
		name := strings.ToLower(p.Name)
		if strings.Contains(name, q) || wordsOverlap(name, q) {
			out = append(out, p)
		}
	}
	// Stable order keeps runs reproducible.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func wordsOverlap(name, query string) bool {
	for _, w := range strings.Fields(query) {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

func (c *Catalog) available(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.ID == productID {
			return p.Available
		}
	}
	return false
}

// Factory returns a storefront.Factory building drivers over this
// catalog. The auth-state file at authStatePath doubles as the
// logged-in marker, the way a persisted browser profile would.
func (c *Catalog) Factory() storefront.Factory {
	return func(username, authStatePath string) (storefront.Driver, error) {
		return &Driver{
			catalog:       c,
			username:      username,
			authStatePath: authStatePath,
			alive:         true,
			cart:          make(map[string]int),
		}, nil
	}
}

// Driver is one user's storefront session. Not safe for concurrent use;
// the session registry serializes access per user.
type Driver struct {
	catalog       *Catalog
	username      string
	authStatePath string
	alive         bool
	cart          map[string]int
	cartNames     []string
}

var _ storefront.Driver = (*Driver)(nil)

func (d *Driver) Alive(ctx context.Context) bool { return d.alive }

// Kill marks the driver dead, simulating a crashed automation handle.
func (d *Driver) Kill() { d.alive = false }

func (d *Driver) Close(ctx context.Context) error {
	d.alive = false
	return nil
}

// LoggedIn reports whether the persisted auth state exists. Login
// happens out of band (session import); the driver only observes it.
func (d *Driver) LoggedIn(ctx context.Context) (bool, error) {
	if !d.alive {
		return false, domain.ErrServiceUnavailable("memstore", nil)
	}
	if d.authStatePath == "" {
		return false, nil
	}
	_, err := os.Stat(d.authStatePath)
	return err == nil, nil
}

func (d *Driver) Search(ctx context.Context, query string) ([]storefront.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !d.alive {
		return nil, domain.ErrServiceUnavailable("memstore", nil)
	}
	return d.catalog.search(query), nil
}

func (d *Driver) AddToCart(ctx context.Context, productID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.alive {
		return domain.ErrServiceUnavailable("memstore", nil)
	}
	if !d.catalog.available(productID) {
		return domain.ErrProductVerificationFailed(productID)
	}
	d.cart[productID]++
	d.catalog.mu.Lock()
	for _, p := range d.catalog.products {
		if p.ID == productID {
			d.cartNames = append(d.cartNames, p.Name)
		}
	}
	d.catalog.mu.Unlock()
	return nil
}

func (d *Driver) Cart(ctx context.Context) (storefront.CartSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return storefront.CartSnapshot{}, err
	}
	if !d.alive {
		return storefront.CartSnapshot{}, domain.ErrServiceUnavailable("memstore", nil)
	}
	count := 0
	for _, n := range d.cart {
		count += n
	}
	return storefront.CartSnapshot{
		HasBillDetails: count > 0,
		ContainerCount: len(d.cart),
		BadgeCount:     count,
		VisibleNames:   append([]string(nil), d.cartNames...),
	}, nil
}

func (d *Driver) Addresses(ctx context.Context) ([]storefront.Address, error) {
	if !d.alive {
		return nil, domain.ErrServiceUnavailable("memstore", nil)
	}
	d.catalog.mu.Lock()
	defer d.catalog.mu.Unlock()
	return append([]storefront.Address(nil), d.catalog.addresses...), nil
}

func (d *Driver) PaymentMethods(ctx context.Context) ([]storefront.PaymentMethod, error) {
	if !d.alive {
		return nil, domain.ErrServiceUnavailable("memstore", nil)
	}
	d.catalog.mu.Lock()
	defer d.catalog.mu.Unlock()
	return append([]storefront.PaymentMethod(nil), d.catalog.payments...), nil
}

func (d *Driver) SubmitOrder(ctx context.Context, addressID, paymentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !d.alive {
		return "", domain.ErrServiceUnavailable("memstore", nil)
	}
	if len(d.cart) == 0 {
		return "", domain.ErrCartVerificationFailed("cart is empty at submit")
	}

	d.catalog.mu.Lock()
	defer d.catalog.mu.Unlock()
	if !d.catalog.storeOpen {
		return "", domain.ErrStoreClosed()
	}
	d.catalog.orderSeq++
	orderID := "order-" + strconv.Itoa(d.catalog.orderSeq)

	d.cart = make(map[string]int)
	d.cartNames = nil
	return orderID, nil
}

// DefaultProducts is a small fixed catalog for demos and tests.
func DefaultProducts() []storefront.Product {
	return []storefront.Product{
		{ID: "p-milk-1l", Name: "Dairy Farm Milk 1L", Price: 1.20, PackSize: 1, Available: true},
		{ID: "p-milk-2l", Name: "Dairy Farm Milk 2L", Price: 2.10, PackSize: 2, HasOffer: true, Available: true},
		{ID: "p-eggs-12", Name: "Free Range Eggs 12pk", Price: 3.50, PackSize: 12, Available: true},
		{ID: "p-eggs-6", Name: "Free Range Eggs 6pk", Price: 2.00, PackSize: 6, Available: true},
		{ID: "p-bread", Name: "Wholemeal Bread 700g", Price: 2.40, PackSize: 0.7, Available: true},
		{ID: "p-rice-5kg", Name: "Jasmine Rice 5kg", Price: 9.80, PackSize: 5, Available: false},
		{ID: "p-rice-1kg", Name: "Jasmine Rice 1kg", Price: 2.50, PackSize: 1, Available: true},
	}
}
