package enums

import (
	"fmt"
	"strings"
)

// VerificationAction names a request surface protected by human verification.
type VerificationAction string

const (
	VerificationActionLogin       VerificationAction = "login"
	VerificationActionRegister    VerificationAction = "register"
	VerificationActionCreateOrder VerificationAction = "create_order"
)

var validVerificationActions = []VerificationAction{
	VerificationActionLogin,
	VerificationActionRegister,
	VerificationActionCreateOrder,
}

func (a VerificationAction) String() string {
	return string(a)
}

func (a VerificationAction) IsValid() bool {
	for _, candidate := range validVerificationActions {
		if candidate == a {
			return true
		}
	}
	return false
}

func ParseVerificationAction(value string) (VerificationAction, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validVerificationActions {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid verification action %q", value)
}

// VerificationState is the lifecycle of a single challenge. A challenge with
// no stored record is unverified.
type VerificationState string

const (
	VerificationStateUnverified VerificationState = "unverified"
	VerificationStatePending    VerificationState = "pending"
	VerificationStateVerified   VerificationState = "verified"
	VerificationStateRejected   VerificationState = "rejected"
	VerificationStateClaimed    VerificationState = "claimed"
)

func (s VerificationState) String() string {
	return string(s)
}
