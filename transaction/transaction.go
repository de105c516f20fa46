package transaction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VIStatus is the state of the accredited investor verification of a paid transaction.
type VIStatus int

const (
	AwaitingAuthorization VIStatus = iota // AwaitingAuthorization waits for the user to grant access to the VerifyInvestor account.
	AwaitingVerification                  // AwaitingVerification waits for the verification request result.
	Accredited                            // Accredited is terminal, the investor is verified as accredited.
	VerificationFailed                    // VerificationFailed is terminal, the verification ended with any other result.
)

var ErrInconsistentTransaction = errors.New("inconsistent transaction")

// String returns human readable name of the status.
func (s VIStatus) String() string {
	switch s {
	case AwaitingAuthorization:
		return "awaiting_authorization"
	case AwaitingVerification:
		return "awaiting_verification_result"
	case Accredited:
		return "verified_accredited"
	case VerificationFailed:
		return "verification_failed"
	default:
		return fmt.Sprintf("unknown_status_%d", int(s))
	}
}

// IsTerminal reports whether no further verification transition is possible from the status.
func (s VIStatus) IsTerminal() bool {
	return s == Accredited || s == VerificationFailed
}

// CanMoveTo reports whether the status may change to next.
// The only allowed edges are 0->1, 1->0, 1->2 and 1->3.
func (s VIStatus) CanMoveTo(next VIStatus) bool {
	switch s {
	case AwaitingAuthorization:
		return next == AwaitingVerification
	case AwaitingVerification:
		return next == AwaitingAuthorization || next == Accredited || next == VerificationFailed
	default:
		return false
	}
}

// Transaction is a payment received for one attestation attempt together with
// the state of the investor verification bound to it.
type Transaction struct {
	CreatedAt                   time.Time `json:"created_at"                     db:"creation_date"`
	ReceivingAddress            string    `json:"receiving_address"              db:"receiving_address"`
	DeviceAddress               string    `json:"device_address"                 db:"device_address"`
	UserAddress                 string    `json:"user_address"                   db:"user_address"`
	PaymentUnit                 string    `json:"payment_unit"                   db:"payment_unit"`
	VIUserID                    string    `json:"vi_user_id,omitempty"           db:"vi_user_id"`
	VIVerificationRequestID     string    `json:"vi_vr_id,omitempty"             db:"vi_vr_id"`
	VIVerificationRequestStatus string    `json:"vi_vr_status,omitempty"         db:"vi_vr_status"`
	ID                          int64     `json:"transaction_id"                 db:"transaction_id"`
	Amount                      int64     `json:"amount"                         db:"amount"`
	Status                      VIStatus  `json:"vi_status"                      db:"vi_status"`
}

// Validate checks that the verification fields are present exactly when the status requires them.
func (t *Transaction) Validate() error {
	hasIDs := t.VIUserID != "" && t.VIVerificationRequestID != ""
	noIDs := t.VIUserID == "" && t.VIVerificationRequestID == ""
	hasVRStatus := t.VIVerificationRequestStatus != ""

	switch t.Status {
	case AwaitingAuthorization:
		if !noIDs || hasVRStatus {
			return errors.Join(ErrInconsistentTransaction, fmt.Errorf("transaction %d awaits authorization but has verification data", t.ID))
		}
	case AwaitingVerification:
		if !hasIDs || hasVRStatus {
			return errors.Join(ErrInconsistentTransaction, fmt.Errorf("transaction %d awaits verification without request ids", t.ID))
		}
	case Accredited, VerificationFailed:
		if !hasIDs || !hasVRStatus {
			return errors.Join(ErrInconsistentTransaction, fmt.Errorf("transaction %d is finished without verification data", t.ID))
		}
	default:
		return errors.Join(ErrInconsistentTransaction, fmt.Errorf("transaction %d has unknown status %d", t.ID, int(t.Status)))
	}
	return nil
}

const lockKeyPrefix = "tx-"

// LockKey is the key of the mutual exclusion lock guarding the transaction row.
func LockKey(id int64) string {
	return lockKeyPrefix + strconv.FormatInt(id, 10)
}

// ParseLockKey returns the transaction id of the key made by LockKey.
func ParseLockKey(key string) (int64, bool) {
	if !strings.HasPrefix(key, lockKeyPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(key[len(lockKeyPrefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
