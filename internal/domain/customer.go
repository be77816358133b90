package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// CustomerInfo carries the contact and delivery fields captured at checkout.
type CustomerInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	Postcode  string `json:"postcode"`
	City      string `json:"city"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Normalize trims surrounding whitespace from every field.
func (c CustomerInfo) Normalize() CustomerInfo {
	return CustomerInfo{
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Address:   strings.TrimSpace(c.Address),
		Postcode:  strings.TrimSpace(c.Postcode),
		City:      strings.TrimSpace(c.City),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
	}
}

// Validate checks the fields required to place an order.
func (c CustomerInfo) Validate() error {
	switch {
	case c.FirstName == "" || c.LastName == "":
		return errors.New("customer name required")
	case c.Address == "" || c.City == "" || c.Postcode == "":
		return errors.New("customer address required")
	case c.Email == "":
		return errors.New("customer email required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return errors.New("customer email invalid")
	}
	return nil
}
