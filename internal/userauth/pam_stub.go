//go:build !pam

package userauth

import (
	"fmt"

	"sshgate/internal/domain"
)

// NewPAMChecker reports that PAM support was not compiled in. Build with
// -tags pam to enable it.
func NewPAMChecker(string) (Checker, error) {
	return nil, fmt.Errorf("pam checker: %w (build with -tags pam)", domain.ErrUnimplemented)
}
