//go:build pam

package userauth

import (
	"errors"
	"fmt"

	"github.com/msteinert/pam/v2"
)

// PAMChecker authenticates system accounts through PAM.
type PAMChecker struct {
	ServiceName string
}

// NewPAMChecker returns a checker using the given PAM service, "sshd" when
// empty.
func NewPAMChecker(serviceName string) (Checker, error) {
	if serviceName == "" {
		serviceName = "sshd"
	}
	return PAMChecker{ServiceName: serviceName}, nil
}

// Check runs a PAM authentication transaction, answering hidden prompts
// with the password.
func (c PAMChecker) Check(user, password string) error {
	t, err := pam.StartFunc(c.ServiceName, user, func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOff:
			return password, nil
		case pam.TextInfo, pam.ErrorMsg:
			return "", nil
		}
		return "", errors.New("unsupported PAM prompt")
	})
	if err != nil {
		return fmt.Errorf("pam start: %w", err)
	}
	defer t.End()

	if err := t.Authenticate(0); err != nil {
		return fmt.Errorf("pam authenticate: %w", err)
	}
	return t.AcctMgmt(0)
}
