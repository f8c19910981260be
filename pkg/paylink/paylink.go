// Package paylink builds payment redirect URLs for plan purchases.
package paylink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultHeleketURL is the Heleket hosted payment page.
const DefaultHeleketURL = "https://heleket.com/pay"

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidUser   = errors.New("user id is required")
)

// Generator turns a user and an amount into a URL the user is redirected to.
type Generator interface {
	Link(userID string, amount decimal.Decimal) (string, error)
}

type Heleket struct {
	BaseURL     string
	MerchantID  string
	CallbackURL string
}

func NewHeleket(merchantID, callbackURL string) (*Heleket, error) {
	if merchantID == "" {
		return nil, errors.New("heleket merchant id is required")
	}
	return &Heleket{BaseURL: DefaultHeleketURL, MerchantID: merchantID, CallbackURL: callbackURL}, nil
}

func (h *Heleket) Link(userID string, amount decimal.Decimal) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidUser
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	base := h.BaseURL
	if base == "" {
		base = DefaultHeleketURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid heleket url: %w", err)
	}

	q := url.Values{}
	q.Set("merchant_id", h.MerchantID)
	q.Set("amount", amount.StringFixed(2))
	q.Set("user_id", userID)
	if h.CallbackURL != "" {
		q.Set("callback_url", h.CallbackURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
