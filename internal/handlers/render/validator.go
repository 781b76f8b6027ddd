package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const otpLength = 6

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("otp", validateOtpCode)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Otp code is exactly six ascii digits, leading zeros are significant
func validateOtpCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	if len(code) != otpLength {
		return false
	}

	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
