package onboard

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used for numbers submitted without a country prefix.
const DefaultPhoneRegion = "GB"

var errInvalidTelephone = errors.New("must be a valid telephone number")

// NormalizeTelephone parses number and returns it in E.164 form.
func NormalizeTelephone(number, region string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", errInvalidTelephone
	}
	if region == "" {
		region = DefaultPhoneRegion
	}

	parsed, err := phonenumbers.Parse(number, region)
	if err != nil {
		return "", errInvalidTelephone
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return "", errInvalidTelephone
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// TelephoneRule validates telephone numbers for the given region.
func TelephoneRule(region string) validation.Rule {
	return validation.By(func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		_, err := NormalizeTelephone(s, region)
		return err
	})
}
