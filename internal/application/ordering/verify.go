package ordering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/storefront"
)

// verifyCart confirms the cart is non-empty after the add stage. Each
// attempt reads one snapshot and accepts if any orthogonal signal
// confirms: bill details present, item containers present, badge count
// positive, or any added product name visible. Storefront UIs are
// eventually consistent after adds, hence the spaced retries.
func (p *Pipeline) verifyCart(ctx context.Context, d storefront.Driver, addedNames []string) error {
	start := time.Now()
	defer func() { metrics.ObserveVerificationDuration(time.Since(start)) }()

	var lastDetail string
	for attempt := 1; attempt <= p.cfg.VerifyAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, p.cfg.VerifySpacing); err != nil {
				return err
			}
		}

		snap, err := d.Cart(ctx)
		if err != nil {
			lastDetail = err.Error()
			p.log.Warn().Err(err).Int("attempt", attempt).Msg("cart snapshot failed")
			continue
		}

		switch {
		case snap.HasBillDetails:
			return nil
		case snap.ContainerCount > 0:
			return nil
		case snap.BadgeCount > 0:
			return nil
		case anyNameVisible(snap.VisibleNames, addedNames):
			return nil
		}
		lastDetail = fmt.Sprintf("attempt %d: no signal confirmed (containers=%d badge=%d)",
			attempt, snap.ContainerCount, snap.BadgeCount)
		p.log.Debug().Int("attempt", attempt).Msg("cart verification inconclusive")
	}

	return domain.ErrCartVerificationFailed(lastDetail)
}

func anyNameVisible(visible, added []string) bool {
	for _, v := range visible {
		lv := strings.ToLower(v)
		for _, a := range added {
			la := strings.ToLower(a)
			if strings.Contains(lv, la) || strings.Contains(la, lv) {
				return true
			}
		}
	}
	return false
}

// sleepCtx sleeps for d, waking early on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
