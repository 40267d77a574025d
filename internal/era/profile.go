package era

import (
	"errors"
	"fmt"
	"strings"
)

// Profile is the tenant's billing identity stamped into generated files.
type Profile struct {
	Name       string `json:"name"`
	TaxID      string `json:"tax_id"`
	ProviderID string `json:"provider_id"` // NPI
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
}

// ErrProfileIncomplete is returned when generation cannot proceed. Tax id and
// provider id are structural fields of the output; without them the file
// would be unusable downstream, so generation fails closed.
var ErrProfileIncomplete = errors.New("billing profile incomplete")

// Validate checks the fields generation cannot do without.
func (p Profile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.TaxID) == "" {
		missing = append(missing, "tax_id")
	}
	if strings.TrimSpace(p.ProviderID) == "" {
		missing = append(missing, "provider_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrProfileIncomplete, strings.Join(missing, ", "))
	}
	return nil
}
