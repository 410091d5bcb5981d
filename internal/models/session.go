package models

import "time"

// SessionState tracks where an account sits in the connect lifecycle.
type SessionState string

const (
	SessionDisconnected  SessionState = "disconnected"
	SessionCodeRequested SessionState = "code_requested"
	SessionAuthenticated SessionState = "authenticated"
	SessionExpired       SessionState = "expired"
	SessionError         SessionState = "error"
)

// AccountSession is the persisted metadata for one upstream account, keyed by
// phone number. The live connection handle is owned exclusively by the
// session registry and never stored here.
type AccountSession struct {
	Account     string       `json:"account"`
	State       SessionState `json:"state"`
	AuthBlob    string       `json:"authBlob,omitempty"`
	ConnectedAt *time.Time   `json:"connectedAt,omitempty"`
	RestoredAt  *time.Time   `json:"restoredAt,omitempty"`
	ExpiredAt   *time.Time   `json:"expiredAt,omitempty"`
	LastError   string       `json:"lastError,omitempty"`
}

// ConnectResult reports the outcome of a Connect attempt.
type ConnectResult string

const (
	ConnectAuthenticated ConnectResult = "authenticated"
	ConnectCodeRequested ConnectResult = "code_requested"
	ConnectRestored      ConnectResult = "restored"
)

// CredentialResult reports the outcome of submitting a login code.
type CredentialResult string

const (
	CredentialAccepted             CredentialResult = "accepted"
	CredentialIncorrect            CredentialResult = "incorrect"
	CredentialExpired              CredentialResult = "expired"
	CredentialSecondFactorRequired CredentialResult = "second_factor_required"
)
