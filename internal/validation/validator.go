package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-orderflow/internal/status"
)

// New returns a configured validator with the custom tags registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// order_status accepts exactly the values of the status vocabulary.
	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		_, err := status.Parse(fl.Field().String())
		return err == nil
	})

	return v
}
