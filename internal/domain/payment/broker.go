package payment

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Catalog resolves trusted product prices.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// CouponValidator checks a coupon code for a user.
type CouponValidator interface {
	Validate(ctx context.Context, userID, code string) (*coupon.Coupon, error)
}

// CartItem is a requested line. Only the product and quantity are taken
// from the client.
type CartItem struct {
	ProductID string
	Quantity  int
}

// OpenRequest asks the Broker to open a session.
type OpenRequest struct {
	Provider   Provider
	UserID     string
	Items      []CartItem
	CouponCode string
}

// OpenResult is the result of Broker.Open.
type OpenResult struct {
	Session *Session
	Quote   pricing.Quote
	// CouponCode is the coupon actually applied, empty when the requested
	// code was not usable.
	CouponCode string
}

// Broker prices a cart and opens a provider session for it. It never
// writes local state: rewards and orders are only produced on
// verification.
type Broker struct {
	currency string
	catalog  Catalog
	coupons  CouponValidator
	gateways map[Provider]Gateway
}

// NewBroker creates a Broker charging in currency through gateways.
func NewBroker(currency string, catalog Catalog, coupons CouponValidator, gateways ...Gateway) *Broker {
	b := &Broker{
		currency: currency,
		catalog:  catalog,
		coupons:  coupons,
		gateways: make(map[Provider]Gateway, len(gateways)),
	}
	for _, g := range gateways {
		b.gateways[g.Provider()] = g
	}
	return b
}

// Providers lists the configured providers.
func (b *Broker) Providers() []Provider {
	out := make([]Provider, 0, len(b.gateways))
	for p := range b.gateways {
		out = append(out, p)
	}
	return out
}

// Open prices the cart from the catalog, applies the coupon if it is valid
// and opens a session with the requested provider.
func (b *Broker) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	gw, ok := b.gateways[req.Provider]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%q", req.Provider)
	}

	items, err := mergeItems(req.Items)
	if err != nil {
		return nil, err
	}

	lines, display, err := b.price(ctx, items)
	if err != nil {
		return nil, err
	}

	var (
		percentage int
		applied    string
	)
	if req.CouponCode != "" {
		c, err := b.coupons.Validate(ctx, req.UserID, req.CouponCode)
		switch {
		case err == nil:
			percentage = c.DiscountPercentage
			applied = c.Code
		case errors.Is(err, coupon.ErrNotFound), errors.Is(err, coupon.ErrExpired):
			// Charge full price.
		default:
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	quote, err := pricing.Calculate(lines, percentage)
	if err != nil {
		return nil, err
	}
	if quote.Total <= 0 {
		return nil, ErrNothingToCharge
	}

	meta := Metadata{UserID: req.UserID, CouponCode: applied}
	for _, l := range lines {
		meta.Items = append(meta.Items, Item{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	encoded, err := EncodeMetadata(meta, gw.Limits())
	if err != nil {
		return nil, err
	}

	sess, err := gw.CreateSession(ctx, SessionRequest{
		Amount:             quote.Total,
		Currency:           b.currency,
		DiscountPercentage: percentage,
		Lines:              display,
		Metadata:           encoded,
	})
	if err != nil {
		if !IsGatewayError(err) {
			err = &GatewayError{Provider: req.Provider, Op: "create session", Err: err}
		}
		return nil, err
	}

	return &OpenResult{Session: sess, Quote: quote, CouponCode: applied}, nil
}

func (b *Broker) price(ctx context.Context, items []CartItem) ([]pricing.Line, []LineItem, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}

	products, err := b.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]pricing.Line, 0, len(items))
	display := make([]LineItem, 0, len(items))
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductID: it.ProductID}
		}
		unit := p.UnitPrice()
		lines = append(lines, pricing.Line{ProductID: p.ID, UnitPrice: unit, Quantity: it.Quantity})
		display = append(display, LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			UnitPrice: unit,
			Quantity:  it.Quantity,
		})
	}
	return lines, display, nil
}

// mergeItems validates quantities and folds repeated products into one
// line, keeping first-seen order. Merged lines are held to the same
// pricing.MaxQuantity as single ones.
func mergeItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, pricing.ErrEmptyCart
	}
	out := make([]CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if it.Quantity < 1 || it.Quantity > pricing.MaxQuantity {
			return nil, &pricing.InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		i, ok := index[it.ProductID]
		if !ok {
			index[it.ProductID] = len(out)
			out = append(out, it)
			continue
		}
		out[i].Quantity += it.Quantity
		if out[i].Quantity > pricing.MaxQuantity {
			return nil, &pricing.InvalidQuantityError{ProductID: it.ProductID, Quantity: out[i].Quantity}
		}
	}
	return out, nil
}
