package calls

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NewContact builds an active contact. The number must already be in
// international format; separators (spaces, dashes, dots, parentheses) are stripped.
func NewContact(phone, name string, now time.Time) (Contact, error) {
	p := strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if !e164.MatchString(p) {
		return Contact{}, fmt.Errorf("%w: phone number %q is not in international format", ErrInvalidArgument, phone)
	}
	return Contact{
		ID:          uuid.NewString(),
		PhoneNumber: p,
		Name:        strings.TrimSpace(name),
		Status:      ContactActive,
		CreatedAt:   now.UTC(),
	}, nil
}
