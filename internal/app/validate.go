package app

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	msgRequired        = "This field is required."
	msgBlank           = "This field may not be blank."
	msgInvalidInt      = "A valid integer is required."
	msgInvalidBool     = "Must be a valid boolean."
	msgInvalidCategory = "Invalid or deleted category"
	msgNotAFile        = "The submitted data was not a file. Check the encoding type on the form."
	maxTitleLength     = 100
)

func msgInvalidPK(id int64) string {
	return fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", id)
}

func msgInvalidChoice(value string) string {
	return fmt.Sprintf("\"%s\" is not a valid choice.", value)
}

// checkTitle validates a required-or-optional short text field. A nil value
// is only reported when required is set.
func checkTitle(errs fieldErrors, field string, value *string, required bool) {
	if value == nil {
		if required {
			errs.add(field, msgRequired)
		}
		return
	}
	if strings.TrimSpace(*value) == "" {
		errs.add(field, msgBlank)
		return
	}
	if utf8.RuneCountInString(*value) > maxTitleLength {
		errs.add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLength))
	}
}

func checkPresent[T any](errs fieldErrors, field string, value *T, required bool) {
	if value == nil && required {
		errs.add(field, msgRequired)
	}
}
