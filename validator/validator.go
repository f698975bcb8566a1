package validator

import (
	"reflect"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ledgerline/ledgerd/core/crypto"
	"github.com/shopspring/decimal"
)

var (
	once sync.Once
	v    *validator.Validate
)

var tokenIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

func validateAddress(fl validator.FieldLevel) bool {
	address, ok := fl.Field().Interface().(string)
	return ok && crypto.IsValidAddress(address)
}

// Amounts arrive here in their string form, see the custom type func below.
func validateAmount(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	d, err := decimal.NewFromString(s)
	return err == nil && !d.IsNegative()
}

func validateTokenID(fl validator.FieldLevel) bool {
	id, ok := fl.Field().Interface().(string)
	return ok && tokenIDPattern.MatchString(id)
}

// Validator returns a singleton that can be used to validate various objects
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()

		for tag, fn := range map[string]validator.Func{
			"address":  validateAddress,
			"amount":   validateAmount,
			"token_id": validateTokenID,
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic("failed to register validation: " + err.Error())
			}
		}

		// Register decimals to use their string representation for validation purposes
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			switch d := field.Interface().(type) {
			case decimal.Decimal:
				return d.String()
			case *decimal.Decimal:
				if d == nil {
					return nil
				}
				return d.String()
			}
			panic("not a decimal")
		}, decimal.Decimal{}, &decimal.Decimal{})
	})
	return v
}
