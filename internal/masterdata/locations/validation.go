package locations

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

func errValidation(field, reason string) error {
	return shared.NewValidationError(field, reason)
}

var upperCaser = cases.Upper(language.Und)

// NormalizeCode trims and upper-cases a location code.
func NormalizeCode(code string) string {
	return upperCaser.String(strings.TrimSpace(code))
}

func (s *Service) validate(loc Location) error {
	if strings.TrimSpace(loc.Code) == "" {
		return errValidation("code", "location code is required")
	}
	if strings.TrimSpace(loc.Name) == "" {
		return errValidation("name", "location name is required")
	}
	if !loc.Kind.IsValid() {
		return errValidation("kind", "unknown location kind")
	}
	return nil
}
