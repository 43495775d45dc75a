package extsession

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/storefront"
)

// Registry holds the live automation driver for each user. One mutex
// serializes Get and Clear so a logout can never race a pipeline that
// is acquiring the same user's driver.
type Registry struct {
	store   *Store
	factory storefront.Factory
	log     zerolog.Logger

	mu   sync.Mutex
	live map[string]storefront.Driver
}

func NewRegistry(store *Store, factory storefront.Factory) *Registry {
	return &Registry{
		store:   store,
		factory: factory,
		log:     logger.Component("extsession_registry"),
		live:    make(map[string]storefront.Driver),
	}
}

// Get returns the user's live driver, building one when none exists.
// Idempotent: repeated calls for the same user return the same
// instance. A driver whose handle has died is closed, dropped, and
// replaced. Distinct usernames never share an instance.
func (r *Registry) Get(ctx context.Context, username string) (storefront.Driver, error) {
	if username == "" {
		return nil, domain.ErrMissingField("username")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.live[username]; ok {
		if d.Alive(ctx) {
			return d, nil
		}
		r.log.Debug().Str("username", username).Msg("dropping dead storefront driver")
		if err := d.Close(ctx); err != nil {
			r.log.Warn().Str("username", username).Err(err).Msg("close of dead driver failed")
		}
		delete(r.live, username)
	}

	d, err := r.factory(username, r.store.AuthStatePath(username))
	if err != nil {
		return nil, domain.ErrServiceUnavailable("storefront", err)
	}
	r.live[username] = d
	r.log.Debug().Str("username", username).Msg("created storefront driver")
	return d, nil
}

// Clear closes the user's live driver (if any) and removes the on-disk
// session, both under the registry lock. Returns whether anything was
// actually cleared.
func (r *Registry) Clear(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, domain.ErrMissingField("username")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	cleared := false

	if d, ok := r.live[username]; ok {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(r.live, username)
		cleared = true
	}

	diskCleared, err := r.store.Clear(username)
	if err != nil {
		errs = append(errs, err)
	}
	cleared = cleared || diskCleared

	return cleared, errors.Join(errs...)
}

// ActiveUsers lists the usernames with a live driver, sorted.
func (r *Registry) ActiveUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.live))
	for u := range r.live {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// CloseAll closes every live driver. Used on daemon shutdown; disk
// sessions are left in place so users can resume after a restart.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for username, d := range r.live {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, err)
			r.log.Warn().Str("username", username).Err(err).Msg("driver close failed during shutdown")
		}
	}
	r.live = make(map[string]storefront.Driver)
	return errors.Join(errs...)
}
