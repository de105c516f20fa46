package verifyinvestor

// Verification request statuses reported by VerifyInvestor.
const (
	StatusAccredited                        = "accredited"
	StatusNoVerificationRequest             = "no_verification_request"
	StatusWaitingForInvestorAcceptance      = "waiting_for_investor_acceptance"
	StatusAcceptedByInvestor                = "accepted_by_investor"
	StatusWaitingForReview                  = "waiting_for_review"
	StatusInReview                          = "in_review"
	StatusNotAccredited                     = "not_accredited"
	StatusWaitingForInformationFromInvestor = "waiting_for_information_from_investor"
	StatusAcceptedExpire                    = "accepted_expire"
	StatusDeclinedExpire                    = "declined_expire"
	StatusDeclinedByInvestor                = "declined_by_investor"
	StatusSelfNotAccredited                 = "self_not_accredited"
)

var descriptions = map[string]string{
	StatusAccredited:                        "The investor is verified as accredited",
	StatusNoVerificationRequest:             "You have no active verification request for this user (investor)",
	StatusWaitingForInvestorAcceptance:      "The verification is ready and waiting for the investor to accept it",
	StatusAcceptedByInvestor:                "The investor has accepted the verification request but has not yet completed it",
	StatusWaitingForReview:                  "Investor has completed the request, and it is now in the reviewers' queue",
	StatusInReview:                          "The verification request has been assigned a reviewer and is under review",
	StatusNotAccredited:                     "After review, it appears the investor is not accredited",
	StatusWaitingForInformationFromInvestor: "The reviewer has requested additional information from the investor",
	StatusAcceptedExpire:                    "The verification request has expired. The investor accepted but did not complete",
	StatusDeclinedExpire:                    "The verification request has expired. The investor never accepted",
	StatusDeclinedByInvestor:                "The investor has declined the verification request",
	StatusSelfNotAccredited:                 "The investor has declined the verification request",
}

// Describe returns the human readable description of the verification request status.
// The second value is false for a status that is not known, such status must not cause any transition.
func Describe(status string) (string, bool) {
	d, ok := descriptions[status]
	return d, ok
}

// IsNeutral reports whether the status means the verification is still in progress.
func IsNeutral(status string) bool {
	switch status {
	case StatusWaitingForInvestorAcceptance,
		StatusAcceptedByInvestor,
		StatusWaitingForReview,
		StatusInReview,
		StatusWaitingForInformationFromInvestor:
		return true
	default:
		return false
	}
}
