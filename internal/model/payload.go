package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingEventName = errors.New("payload missing event_name")
	ErrMissingClientID  = errors.New("payload missing client_id")
)

// Item is one line item of a purchase payload.
type Item struct {
	ItemID       string  `json:"item_id"`
	ItemName     string  `json:"item_name"`
	ItemSKU      string  `json:"item_sku,omitempty"`
	ItemCategory string  `json:"item_category,omitempty"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
}

// UserData carries optional customer contact fields. Raw values are stored
// as-is; they are normalized and hashed only at transform time, before any
// byte leaves the process.
type UserData struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// EventPayload is the typed view of the stored payload blob.
type EventPayload struct {
	EventName     string            `json:"event_name"`
	ClientID      string            `json:"client_id"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Value         float64           `json:"value,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Tax           float64           `json:"tax,omitempty"`
	Shipping      float64           `json:"shipping,omitempty"`
	Coupon        string            `json:"coupon,omitempty"`
	Items         []Item            `json:"items,omitempty"`
	UserData      *UserData         `json:"user_data,omitempty"`
	Attribution   map[string]string `json:"attribution,omitempty"`
	Timestamp     int64             `json:"timestamp,omitempty"`
}

// Validate enforces the fields the transformer cannot work without.
// Called at insert time so malformed captures fail fast instead of at send.
func (p *EventPayload) Validate() error {
	if p.EventName == "" {
		return ErrMissingEventName
	}
	if p.ClientID == "" {
		return ErrMissingClientID
	}
	return nil
}

// Marshal produces the canonical stored form of the payload.
func (p *EventPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// ParsePayload decodes a stored payload blob into its typed form.
func ParsePayload(raw []byte) (*EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}
