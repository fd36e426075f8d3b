package server

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
)

var registerValidatorsOnce sync.Once

// registerValidators installs the domain tags on gin's shared validator.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
			return usagedomain.Metric(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
			value := fl.Field().String()
			return value == "" || usagedomain.Period(value).Valid()
		})
		_ = v.RegisterValidation("month", func(fl validator.FieldLevel) bool {
			_, err := billingdomain.ParsePeriod(fl.Field().String())
			return err == nil
		})
	})
}

func jsonFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form", "uri"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}
