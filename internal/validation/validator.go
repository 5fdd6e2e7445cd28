package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var assetPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

func ValidateOrderRequest(baseAsset, quoteAsset, side, quantity, price string) ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, validateAsset("base_asset", baseAsset)...)
	errs = append(errs, validateAsset("quote_asset", quoteAsset)...)
	if strings.EqualFold(strings.TrimSpace(baseAsset), strings.TrimSpace(quoteAsset)) &&
		strings.TrimSpace(baseAsset) != "" {
		errs = append(errs, FieldError{Field: "quote_asset", Message: "base and quote assets must differ"})
	}

	side = strings.ToLower(strings.TrimSpace(side))
	if side != "buy" && side != "sell" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be buy or sell"})
	}

	if _, err := parsePositiveDecimal("quantity", quantity); err != nil {
		errs = append(errs, FieldError{Field: "quantity", Message: err.Error()})
	}
	if _, err := parsePositiveDecimal("price", price); err != nil {
		errs = append(errs, FieldError{Field: "price", Message: err.Error()})
	}

	return errs
}

func ValidateTransferRequest(asset, amount string) ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, validateAsset("asset", asset)...)
	if _, err := parsePositiveDecimal("amount", amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}
	return errs
}

func validateAsset(field, raw string) ValidationErrors {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return ValidationErrors{{Field: field, Message: field + " is required"}}
	}
	if !assetPattern.MatchString(trimmed) {
		return ValidationErrors{{Field: field, Message: field + " must be a 2-10 character asset code"}}
	}
	return nil
}

func parsePositiveDecimal(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return val, nil
}

func NormalizeAsset(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
