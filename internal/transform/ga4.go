package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/funnelsheet/event-relay/internal/model"
)

// GA4 Measurement Protocol shapes.

type ga4Payload struct {
	ClientID string     `json:"client_id"`
	Events   []ga4Event `json:"events"`
	UserData *ga4User   `json:"user_data,omitempty"`
}

type ga4Event struct {
	Name   string `json:"name"`
	Params any    `json:"params"`
}

type ga4PurchaseParams struct {
	TransactionID string    `json:"transaction_id"`
	Value         float64   `json:"value"`
	Currency      string    `json:"currency"`
	Tax           float64   `json:"tax"`
	Shipping      float64   `json:"shipping"`
	Items         []ga4Item `json:"items"`
	Coupon        string    `json:"coupon,omitempty"`
}

type ga4RefundParams struct {
	TransactionID string  `json:"transaction_id"`
	Value         float64 `json:"value"`
	Currency      string  `json:"currency"`
}

type ga4Item struct {
	ItemID       string  `json:"item_id"`
	ItemName     string  `json:"item_name"`
	ItemSKU      string  `json:"item_sku,omitempty"`
	ItemCategory string  `json:"item_category,omitempty"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
}

type ga4User struct {
	EmailAddress string      `json:"email_address,omitempty"`
	PhoneNumber  string      `json:"phone_number,omitempty"`
	Address      *ga4Address `json:"address,omitempty"`
}

type ga4Address struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

func buildGA4(p *model.EventPayload) ([]byte, error) {
	out := ga4Payload{
		ClientID: p.ClientID,
		Events: []ga4Event{{
			Name:   p.EventName,
			Params: buildParams(p),
		}},
		UserData: buildUserData(p.UserData),
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, &TransformError{Reason: "encode ga4 payload", Err: err}
	}
	return b, nil
}

// buildParams shapes event params by event name. Unknown event names get
// empty params and are forwarded best-effort.
func buildParams(p *model.EventPayload) any {
	switch p.EventName {
	case "purchase":
		items := make([]ga4Item, 0, len(p.Items))
		for _, it := range p.Items {
			items = append(items, ga4Item{
				ItemID:       it.ItemID,
				ItemName:     it.ItemName,
				ItemSKU:      it.ItemSKU,
				ItemCategory: it.ItemCategory,
				Quantity:     it.Quantity,
				Price:        it.Price,
			})
		}
		return ga4PurchaseParams{
			TransactionID: p.TransactionID,
			Value:         p.Value,
			Currency:      p.Currency,
			Tax:           p.Tax,
			Shipping:      p.Shipping,
			Items:         items,
			Coupon:        p.Coupon,
		}
	case "refund":
		return ga4RefundParams{
			TransactionID: p.TransactionID,
			Value:         p.Value,
			Currency:      p.Currency,
		}
	default:
		return struct{}{}
	}
}

// buildUserData hashes contact fields for enhanced conversions. Absent fields
// are omitted entirely, never sent as empty strings, and raw PII never leaves
// the process.
func buildUserData(u *model.UserData) *ga4User {
	if u == nil {
		return nil
	}

	out := &ga4User{}
	if u.Email != "" {
		out.EmailAddress = hashText(u.Email)
	}
	if u.Phone != "" {
		out.PhoneNumber = hashPhone(u.Phone)
	}

	addr := &ga4Address{}
	hasAddr := false
	for _, f := range []struct {
		src string
		dst *string
	}{
		{u.FirstName, &addr.FirstName},
		{u.LastName, &addr.LastName},
		{u.City, &addr.City},
		{u.State, &addr.Region},
		{u.Country, &addr.Country},
		{u.PostalCode, &addr.PostalCode},
	} {
		if f.src != "" {
			*f.dst = hashText(f.src)
			hasAddr = true
		}
	}
	if hasAddr {
		out.Address = addr
	}

	if out.EmailAddress == "" && out.PhoneNumber == "" && out.Address == nil {
		return nil
	}
	return out
}

// hashText lower-cases and trims before the one-way hash.
func hashText(s string) string {
	return sha256Hex(strings.ToLower(strings.TrimSpace(s)))
}

// hashPhone keeps digits only before hashing.
func hashPhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return sha256Hex(b.String())
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
