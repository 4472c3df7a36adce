package payment

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const (
	metaUserID     = "userId"
	metaCouponCode = "couponCode"
	metaLineItems  = "lineItems"
	metaParts      = "lineItems.parts"
)

// MetadataLimits describes how much metadata a provider accepts.
type MetadataLimits struct {
	MaxKeys     int
	MaxValueLen int
}

var (
	// StripeLimits are the checkout session metadata limits.
	StripeLimits = MetadataLimits{MaxKeys: 50, MaxValueLen: 500}
	// RazorpayLimits are the order notes limits.
	RazorpayLimits = MetadataLimits{MaxKeys: 15, MaxValueLen: 256}
)

// EncodeMetadata flattens m into provider metadata. The line items are
// written as a JSON array; when it exceeds the value limit it is split
// across numbered keys.
func EncodeMetadata(m Metadata, limits MetadataLimits) (map[string]string, error) {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range m.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Int64(it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	items := string(e.Bytes())

	out := map[string]string{metaUserID: m.UserID}
	if m.CouponCode != "" {
		out[metaCouponCode] = m.CouponCode
	}

	if limits.MaxValueLen <= 0 || len(items) <= limits.MaxValueLen {
		out[metaLineItems] = items
		return out, checkKeys(out, limits)
	}

	parts := 0
	for start := 0; start < len(items); start += limits.MaxValueLen {
		end := min(start+limits.MaxValueLen, len(items))
		out[metaLineItems+"."+strconv.Itoa(parts)] = items[start:end]
		parts++
	}
	out[metaParts] = strconv.Itoa(parts)
	return out, checkKeys(out, limits)
}

func checkKeys(out map[string]string, limits MetadataLimits) error {
	if limits.MaxKeys > 0 && len(out) > limits.MaxKeys {
		return ErrCartTooLarge
	}
	return nil
}

// DecodeMetadata reads metadata written by EncodeMetadata. Any deviation
// is reported as ErrMalformedMetadata.
func DecodeMetadata(raw map[string]string) (Metadata, error) {
	m := Metadata{
		UserID:     raw[metaUserID],
		CouponCode: raw[metaCouponCode],
	}
	if m.UserID == "" {
		return Metadata{}, errors.Wrap(ErrMalformedMetadata, "missing user")
	}

	items, ok := raw[metaLineItems]
	if p, chunked := raw[metaParts]; chunked {
		parts, err := strconv.Atoi(p)
		if err != nil || parts <= 0 {
			return Metadata{}, errors.Wrap(ErrMalformedMetadata, "bad part count")
		}
		items = ""
		for i := range parts {
			chunk, ok := raw[metaLineItems+"."+strconv.Itoa(i)]
			if !ok {
				return Metadata{}, errors.Wrapf(ErrMalformedMetadata, "missing part %d", i)
			}
			items += chunk
		}
	} else if !ok {
		return Metadata{}, errors.Wrap(ErrMalformedMetadata, "missing line items")
	}

	d := jx.DecodeStr(items)
	if err := d.Arr(func(d *jx.Decoder) error {
		var it Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "price":
				it.UnitPrice, err = d.Int64()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if it.ProductID == "" || it.Quantity < 1 || it.UnitPrice < 0 {
			return errors.Errorf("invalid line %q", it.ProductID)
		}
		m.Items = append(m.Items, it)
		return nil
	}); err != nil {
		return Metadata{}, errors.Wrapf(ErrMalformedMetadata, "line items: %v", err)
	}
	if len(m.Items) == 0 {
		return Metadata{}, errors.Wrap(ErrMalformedMetadata, "no line items")
	}
	return m, nil
}
