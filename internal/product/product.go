// Package product defines the product record served by the backend and the
// rules a new product must satisfy.
package product

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrInvalidName reports a missing, non-string or blank name.
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidPrice reports a missing, non-numeric or negative price.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrMalformedBody reports a request body that is not a JSON object.
	ErrMalformedBody = errors.New("malformed JSON body")
)

// Messages returned to API clients in the "error" field.
const (
	MsgInvalidName   = "Invalid name"
	MsgInvalidPrice  = "Invalid price"
	MsgMalformedBody = "Invalid JSON body"
)

// Message returns the client-facing message for a ParseInput error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return MsgInvalidName
	case errors.Is(err, ErrInvalidPrice):
		return MsgInvalidPrice
	default:
		return MsgMalformedBody
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Product is a persisted product record.
type Product struct {
	ID        uuid.UUID `json:"_id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Input is a validated request to create a product.
type Input struct {
	Name  string  `validate:"notblank"`
	Price float64 `validate:"gte=0"`
}

// ParseInput decodes and validates a create request body. The name is
// checked before the price, so a body with both fields wrong reports
// ErrInvalidName. An empty body is treated as an empty object.
func ParseInput(body []byte) (Input, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return Input{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	}

	var in Input
	if !decodeField(fields["name"], &in.Name) {
		return Input{}, ErrInvalidName
	}
	if !decodeField(fields["price"], &in.Price) {
		return Input{}, ErrInvalidPrice
	}

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Name" {
			return Input{}, ErrInvalidName
		}
		return Input{}, ErrInvalidPrice
	}

	in.Name = strings.TrimSpace(in.Name)
	return in, nil
}

// decodeField reports whether raw holds a non-null JSON value of dst's type.
func decodeField(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// New builds a Product from a validated input, stamped with now.
func New(in Input, now time.Time) (*Product, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate product id: %w", err)
	}
	now = now.UTC()
	return &Product{
		ID:        id,
		Name:      in.Name,
		Price:     in.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
