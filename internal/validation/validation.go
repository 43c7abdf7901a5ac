package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the only accepted date shape: fixed-width ISO calendar dates.
const DateLayout = "2006-01-02"

// ErrDateEmpty is returned when a date is empty or whitespace-only.
var ErrDateEmpty = errors.New("date is required")

// ErrDateFormat is returned when a date is not a real YYYY-MM-DD calendar date.
var ErrDateFormat = errors.New("date must be YYYY-MM-DD")

var validate = validator.New()

// ValidateDate checks that input is a well-formed ISO date (YYYY-MM-DD) naming a real
// calendar day. Surrounding whitespace is not trimmed: " 2017-01-01" is rejected, since a
// padded string would compare lexicographically against stored dates in the wrong place.
func ValidateDate(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrDateEmpty
	}
	if err := validate.Var(input, "len=10,datetime="+DateLayout); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return "", ErrDateFormat
		}
		return "", err
	}
	return input, nil
}
