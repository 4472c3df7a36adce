// Package cart keeps each customer's cart on the server. Every operation
// sets a final state, so retrying one is harmless.
package cart

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// MaxQuantity caps a single line. Carts never hold more than checkout
// accepts.
const MaxQuantity = pricing.MaxQuantity

// QuantityError indicates a quantity outside [0, MaxQuantity].
type QuantityError struct {
	ProductID string
	Quantity  int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("quantity %d for product %s must be between 0 and %d", e.Quantity, e.ProductID, MaxQuantity)
}

// Line is a product and its quantity.
type Line struct {
	ProductID string
	Quantity  int
}

// Store persists carts keyed by user.
type Store interface {
	// Lines returns the cart lines, or none when the cart does not exist.
	Lines(ctx context.Context, userID string) ([]Line, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// Catalog resolves products for cart views.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// ViewLine is a cart line joined with its product.
type ViewLine struct {
	Product  product.Product
	Quantity int
	// Amount is the line total in minor units.
	Amount int64
}

// View is a priced cart.
type View struct {
	Lines    []ViewLine
	Subtotal int64
}

// Service manages carts.
type Service struct {
	store   Store
	catalog Catalog
}

// NewService creates a cart Service.
func NewService(store Store, catalog Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

// SetQuantity makes quantity the line's final quantity. Zero removes the
// line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 0 || quantity > MaxQuantity {
		return &QuantityError{ProductID: productID, Quantity: quantity}
	}
	if quantity == 0 {
		return s.Remove(ctx, userID, productID)
	}

	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		return err
	}
	if err := s.store.SetQuantity(ctx, userID, productID, quantity); err != nil {
		return errors.Wrap(err, "set quantity")
	}
	return nil
}

// Remove deletes the line. Removing a missing line succeeds.
func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	if err := s.store.Remove(ctx, userID, productID); err != nil {
		return errors.Wrap(err, "remove line")
	}
	return nil
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// Lines returns the raw cart lines ordered by product id.
func (s *Service) Lines(ctx context.Context, userID string) ([]Line, error) {
	lines, err := s.store.Lines(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	slices.SortFunc(lines, func(a, b Line) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return lines, nil
}

// View prices the cart at current catalog prices. Lines whose product no
// longer exists are left out.
func (s *Service) View(ctx context.Context, userID string) (*View, error) {
	lines, err := s.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := &View{Lines: []ViewLine{}}
	if len(lines) == 0 {
		return v, nil
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			continue
		}
		pl := pricing.Line{ProductID: p.ID, UnitPrice: p.UnitPrice(), Quantity: l.Quantity}
		priced = append(priced, pl)
		v.Lines = append(v.Lines, ViewLine{Product: p, Quantity: l.Quantity, Amount: pl.Amount()})
	}
	if len(priced) == 0 {
		return v, nil
	}

	v.Subtotal, err = pricing.Subtotal(priced)
	if err != nil {
		return nil, err
	}
	return v, nil
}
