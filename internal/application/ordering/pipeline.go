package ordering

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
	"github.com/pantrylab/pantryd/internal/metrics"
	"github.com/pantrylab/pantryd/internal/storefront"
)

// Config tunes the pipeline. Zero values take the defaults below.
type Config struct {
	// TopN is how many ranked variants to try per item before giving up.
	TopN int
	// ItemPacing is the delay between consecutive item adds.
	ItemPacing time.Duration
	// VerifyAttempts and VerifySpacing govern the cart check.
	VerifyAttempts int
	VerifySpacing  time.Duration
	// MinSimilarity gates ranking: when even the best candidate's name
	// similarity is below this, the item fails rather than adding
	// something unrelated.
	MinSimilarity float64
}

func (c Config) withDefaults() Config {
	if c.TopN <= 0 {
		c.TopN = 3
	}
	if c.ItemPacing <= 0 {
		c.ItemPacing = time.Second
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = 3
	}
	if c.VerifySpacing <= 0 {
		c.VerifySpacing = 2 * time.Second
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = scoreWordOverlap // at least one overlapping word
	}
	return c
}

// Request is one ordering run for an authenticated user. Items may be
// pre-normalized; otherwise RawList goes through preprocessing.
type Request struct {
	Username string
	RawList  string
	Items    []storefront.Item
	// Checkout submits the order after verification. Without it the run
	// stops at a verified cart.
	Checkout bool
}

// ItemOutcome reports what happened to one grocery atom.
type ItemOutcome struct {
	Item    storefront.Item
	Added   bool
	Product string // store product name actually added
	Reason  string // failure reason when !Added
}

// Report is the pipeline's run summary. Partial failure is normal:
// individual items can fail while the run succeeds overall.
type Report struct {
	Outcomes     []ItemOutcome
	Added        int
	Retries      int
	Dropped      []string
	Fallback     bool
	CartVerified bool
	OrderID      string
}

// Pipeline drives the ordering flow: preprocess, bind session,
// authorize, add items, verify, optionally check out. One run per user
// at a time; the session registry serializes driver access.
type Pipeline struct {
	sessions   Sessions
	logins     LoginCache
	normalizer Normalizer
	chooser    Chooser
	history    HistoryProvider
	cfg        Config
	log        zerolog.Logger
}

func NewPipeline(sessions Sessions, logins LoginCache, cfg Config) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		logins:   logins,
		chooser:  FirstChoice{},
		history:  NoHistory{},
		cfg:      cfg.withDefaults(),
		log:      logger.Component("ordering"),
	}
}

// WithNormalizer plugs in the external list normalizer.
func (p *Pipeline) WithNormalizer(n Normalizer) *Pipeline {
	p.normalizer = n
	return p
}

// WithChooser replaces the headless first-choice selection.
func (p *Pipeline) WithChooser(c Chooser) *Pipeline {
	p.chooser = c
	return p
}

// WithHistory plugs in purchase history for ranking.
func (p *Pipeline) WithHistory(h HistoryProvider) *Pipeline {
	p.history = h
	return p
}

// Run executes the pipeline. The returned Report is valid even on
// error: it describes how far the run got.
func (p *Pipeline) Run(ctx context.Context, req Request) (Report, error) {
	var report Report
	if req.Username == "" {
		return report, domain.ErrMissingField("username")
	}

	// Stage 1: preprocess.
	items := req.Items
	if len(items) == 0 {
		pre := p.preprocess(ctx, req.RawList)
		items = pre.Items
		report.Dropped = pre.Dropped
		report.Fallback = pre.Fallback
	}
	if len(items) == 0 {
		return report, domain.ErrMissingField("items")
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Stage 2: bind the storefront session.
	d, err := p.bindDriver(ctx, req.Username)
	if err != nil {
		metrics.RecordOrderRun("bind_failed")
		return report, err
	}

	// Stage 3: authorize against the storefront.
	if err := p.authorize(ctx, d, req.Username); err != nil {
		metrics.RecordOrderRun("unauthorized")
		return report, err
	}

	// Stage 4: add items, pacing between them.
	hist, err := p.history.HistoryFor(ctx, req.Username)
	if err != nil {
		p.log.Warn().Err(err).Msg("history lookup failed, ranking without it")
		hist = History{}
	}
	var addedNames []string
	for i, item := range items {
		if i > 0 {
			if err := sleepCtx(ctx, p.cfg.ItemPacing); err != nil {
				return report, err
			}
		}
		outcome, retries := p.addItem(ctx, d, item, hist)
		report.Retries += retries
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Added {
			report.Added++
			addedNames = append(addedNames, outcome.Product)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	if report.Added == 0 {
		metrics.RecordOrderRun("nothing_added")
		return report, domain.ErrCartVerificationFailed("no item could be added")
	}

	// Stage 5: verify the cart.
	if err := p.verifyCart(ctx, d, addedNames); err != nil {
		metrics.RecordOrderRun("verification_failed")
		return report, err
	}
	report.CartVerified = true

	// Stage 6: optional checkout.
	if req.Checkout {
		orderID, err := p.checkout(ctx, d)
		if err != nil {
			if domain.Is(err, "store_closed") {
				metrics.RecordOrderRun("store_closed")
			} else {
				metrics.RecordOrderRun("checkout_failed")
			}
			return report, err
		}
		report.OrderID = orderID
	}

	metrics.RecordOrderRun("ok")
	p.log.Info().Str("username", req.Username).Int("added", report.Added).
		Int("failed", len(report.Outcomes)-report.Added).
		Str("order_id", report.OrderID).Msg("ordering run finished")
	return report, nil
}

// bindDriver acquires the user's driver, rebuilding once if the handle
// is dead. A second dead handle means the automation backend is gone.
func (p *Pipeline) bindDriver(ctx context.Context, username string) (storefront.Driver, error) {
	d, err := p.sessions.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if d.Alive(ctx) {
		return d, nil
	}

	p.log.Warn().Str("username", username).Msg("storefront driver dead, reinitializing once")
	if _, err := p.sessions.Clear(ctx, username); err != nil {
		p.log.Warn().Err(err).Msg("clear of dead session failed")
	}
	d, err = p.sessions.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if !d.Alive(ctx) {
		return nil, domain.ErrServiceUnavailable("storefront", nil)
	}
	return d, nil
}

// authorize checks the storefront recognizes the session. Positive
// results are cached; a cache hit skips the round trip entirely.
func (p *Pipeline) authorize(ctx context.Context, d storefront.Driver, username string) error {
	if p.logins != nil && p.logins.IsFresh(ctx, username) {
		return nil
	}
	in, err := d.LoggedIn(ctx)
	if err != nil {
		return err
	}
	if !in {
		if p.logins != nil {
			p.logins.Clear(ctx, username)
		}
		return domain.ErrAuthFailed("storefront_login_required")
	}
	if p.logins != nil {
		p.logins.MarkVerified(ctx, username)
	}
	return nil
}

// addItem searches, gates on similarity, ranks and tries the top-N
// variants in order. Per-item failures are outcomes, not errors.
func (p *Pipeline) addItem(ctx context.Context, d storefront.Driver, item storefront.Item, hist History) (ItemOutcome, int) {
	out := ItemOutcome{Item: item}

	candidates, err := d.Search(ctx, item.Name)
	if err != nil {
		out.Reason = "search_failed"
		p.log.Warn().Err(err).Str("item", item.Name).Msg("storefront search failed")
		return out, 0
	}

	ranked := rankVariants(item, candidates, hist)
	if len(ranked) == 0 {
		out.Reason = "no_available_candidates"
		return out, 0
	}
	if nameSimilarity(strings.ToLower(ranked[0].Name), strings.ToLower(item.Name)) < p.cfg.MinSimilarity {
		out.Reason = "product_verification_failed"
		p.log.Warn().Str("item", item.Name).Str("best", ranked[0].Name).
			Msg("best candidate too dissimilar, skipping item")
		return out, 0
	}

	tries := ranked
	if len(tries) > p.cfg.TopN {
		tries = tries[:p.cfg.TopN]
	}
	retries := 0
	for i, candidate := range tries {
		if err := d.AddToCart(ctx, candidate.ID); err != nil {
			retries++
			metrics.RecordOrderItemRetry()
			p.log.Debug().Err(err).Str("product", candidate.Name).Int("rank", i).Msg("add to cart failed, trying next")
			continue
		}
		out.Added = true
		out.Product = candidate.Name
		return out, retries
	}
	out.Reason = "all_variants_failed"
	return out, retries
}

// checkout selects an address and a payment method through the chooser
// and submits. Payment labels are masked before they reach the log.
func (p *Pipeline) checkout(ctx context.Context, d storefront.Driver) (string, error) {
	addrs, err := d.Addresses(ctx)
	if err != nil {
		return "", err
	}
	addr, err := p.chooser.ChooseAddress(ctx, addrs)
	if err != nil {
		return "", domain.ErrInvalidField("address", err.Error())
	}

	methods, err := d.PaymentMethods(ctx)
	if err != nil {
		return "", err
	}
	method, err := p.chooser.ChoosePayment(ctx, methods)
	if err != nil {
		return "", domain.ErrInvalidField("payment", err.Error())
	}
	p.log.Info().Str("address", addr.Label).Str("payment", maskLabel(method.Label)).Msg("submitting order")

	return d.SubmitOrder(ctx, addr.ID, method.ID)
}
