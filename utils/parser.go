package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/tokenpay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	return validate
}

// ValidateStruct runs struct tag validation on v.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ParsePurchaseRequest parses and validates a purchase record payload.
func ParsePurchaseRequest(data []byte) (*types.PurchaseRequest, error) {
	var req types.PurchaseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse purchase request: %w", err)
	}
	if err := ValidateStruct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseLoginRequest parses and validates an admin login payload.
func ParseLoginRequest(data []byte) (*types.LoginRequest, error) {
	var req types.LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse login request: %w", err)
	}
	if err := ValidateStruct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
