// Package razorpay creates and reads Razorpay orders.
package razorpay

import (
	"context"
	"math"
	"strings"

	"github.com/go-faster/errors"
	rzp "github.com/razorpay/razorpay-go"
	rzperrors "github.com/razorpay/razorpay-go/errors"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/gateway"
)

var (
	_ payment.Gateway     = (*Client)(nil)
	_ payment.OrderLookup = (*Client)(nil)
)

// Config holds the Razorpay API keys. KeySecret also signs payment
// callbacks.
type Config struct {
	KeyID     string
	KeySecret string
}

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Client is the Razorpay payment gateway.
type Client struct {
	keyID  string
	guard  *gateway.Guard
	orders orderAPI
}

// New creates a Client using the Razorpay API.
func New(cfg Config, guard *gateway.Guard) *Client {
	c := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Client{keyID: cfg.KeyID, guard: guard, orders: c.Order}
}

func (*Client) Provider() payment.Provider { return payment.ProviderRazorpay }

func (*Client) Limits() payment.MetadataLimits { return payment.RazorpayLimits }

// CreateSession creates an order for req.Amount. The browser completes it
// with the checkout widget using the returned public key.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	notes := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"notes":    notes,
	}

	return gateway.Call(ctx, c.guard, "create order", func(ctx context.Context) (*payment.Session, error) {
		body, err := gateway.Detach(ctx, func() (map[string]interface{}, error) {
			return c.orders.Create(data, nil)
		})
		if err != nil {
			return nil, err
		}
		o, err := parseOrder(body)
		if err != nil {
			return nil, err
		}
		return &payment.Session{
			Provider:  payment.ProviderRazorpay,
			ID:        o.ID,
			Amount:    o.Amount,
			Currency:  o.Currency,
			PublicKey: c.keyID,
		}, nil
	})
}

// Order fetches an order by id.
func (c *Client) Order(ctx context.Context, id string) (*payment.ProviderOrder, error) {
	return gateway.Call(ctx, c.guard, "fetch order", func(ctx context.Context) (*payment.ProviderOrder, error) {
		body, err := gateway.Detach(ctx, func() (map[string]interface{}, error) {
			return c.orders.Fetch(id, nil, nil)
		})
		if err != nil {
			if isBadRequest(err) {
				return nil, errors.Wrapf(payment.ErrUnknownPayment, "order %q", id)
			}
			return nil, err
		}
		return parseOrder(body)
	})
}

func parseOrder(body map[string]interface{}) (*payment.ProviderOrder, error) {
	o := &payment.ProviderOrder{}
	o.ID, _ = body["id"].(string)
	if o.ID == "" {
		return nil, errors.New("order response without id")
	}
	o.Status, _ = body["status"].(string)
	if cur, ok := body["currency"].(string); ok {
		o.Currency = strings.ToLower(cur)
	}

	switch v := body["amount"].(type) {
	case float64:
		o.Amount = int64(math.Round(v))
	case int64:
		o.Amount = v
	case int:
		o.Amount = int64(v)
	default:
		return nil, errors.Errorf("order %s: unexpected amount %v", o.ID, body["amount"])
	}

	// Orders created without notes report them as an empty array.
	if notes, ok := body["notes"].(map[string]interface{}); ok {
		o.Notes = make(map[string]string, len(notes))
		for k, v := range notes {
			if s, ok := v.(string); ok {
				o.Notes[k] = s
			}
		}
	}
	return o, nil
}

func isBadRequest(err error) bool {
	var bre *rzperrors.BadRequestError
	return errors.As(err, &bre)
}

// Transient reports whether err means Razorpay is unavailable.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, payment.ErrUnknownPayment) {
		return false
	}
	return !isBadRequest(err)
}
