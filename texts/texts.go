package texts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const bytesInGB = 1e9

// Config holds values rendered in to the messages sent to users.
type Config struct {
	PriceInUSD          float64 `yaml:"price_in_usd"`
	RewardInUSD         float64 `yaml:"reward_in_usd"`
	ReferralRewardInUSD float64 `yaml:"referral_reward_in_usd"`
	VerifyInvestorURL   string  `yaml:"-"` // set from the verify investor configuration
}

// Texts renders responses for users.
type Texts struct {
	cfg Config
}

// New creates new Texts.
func New(cfg Config) Texts {
	return Texts{cfg: cfg}
}

// Greeting is sent when a device pairs with the bot.
func (t Texts) Greeting() string {
	return strings.Join([]string{
		"Here you can attest that you are an accredited investor.\n\n",
		fmt.Sprintf("The price of attestation is $%s. ", usd(t.cfg.PriceInUSD)),
		"The payment is nonrefundable even if the attestation fails for any reason.\n\n",
		"After you are successfully attested for the first time, ",
		fmt.Sprintf("you receive a $%s reward in Bytes.", usd(t.cfg.RewardInUSD)),
	}, "")
}

func (t Texts) WeHaveReferralProgram() string {
	return "Remember, we have a referral program: " +
		"if you send Bytes from your attested address to a new user who is not attested yet, " +
		"and he/she uses those Bytes to pay for a successful attestation, " +
		fmt.Sprintf("you receive a $%s reward in Bytes.", usd(t.cfg.ReferralRewardInUSD))
}

func (t Texts) InsertMyAddress() string {
	return "Please send me your address that you wish to attest (click ... and Insert my address).\n" +
		"Make sure you are in a single-address wallet. " +
		"If you don't have a single-address wallet, " +
		"please add one (burger menu, add wallet) and fund it with the amount sufficient to pay for the attestation."
}

func (t Texts) GoingToAttestAddress(address string) string {
	return fmt.Sprintf("Thanks, going to attest your address: %s.", address)
}

func (t Texts) PleasePay(receivingAddress string, price int64) string {
	return fmt.Sprintf("Please pay for the attestation: [attestation payment](byteball:%s?amount=%d).", receivingAddress, price)
}

func (t Texts) ReceivedPaymentFromMultipleAddresses() string {
	return "Received a payment but looks like it was not sent from a single-address wallet."
}

func (t Texts) ReceivedPaymentNotFromExpectedAddress(address string) string {
	return fmt.Sprintf("Received a payment but it was not sent from the expected address %s.\n", address) +
		"Make sure you are in a single-address wallet, " +
		"otherwise switch to a single-address wallet or create one and send me your address before paying."
}

func (t Texts) ReceivedYourPayment(amount int64) string {
	return fmt.Sprintf("Received your payment of %d Bytes, waiting for confirmation. It should take 5-15 minutes.", amount)
}

// ReceivedPaymentLessThanExpected is sent when the payment does not cover the attestation price.
func (t Texts) ReceivedPaymentLessThanExpected(amount, price int64) string {
	return fmt.Sprintf("Received %s GB but the attestation costs %s GB. ", gb(amount), gb(price)) +
		"The payment is nonrefundable, please pay the full price to the same address."
}

func (t Texts) PaymentIsConfirmed() string {
	return "Your payment is confirmed, redirecting to verify investor ..."
}

// ClickInvestorLink renders the link to the VerifyInvestor authorization page.
func (t Texts) ClickInvestorLink(redirectURN string) string {
	return fmt.Sprintf("Please click this link to start verification: %s%s", t.cfg.VerifyInvestorURL, redirectURN)
}

func (t Texts) ReceivedAuthToUserAccount() string {
	return "Received access to your verify investor account."
}

func (t Texts) WaitingWhileVerificationRequestFinished() string {
	return "A verification request has been sent, please complete it on verify investor. " +
		"We will let you know as soon as the verification is finished."
}

// VerificationRequestCompletedWithStatus renders the description of a finished verification request.
func (t Texts) VerificationRequestCompletedWithStatus(description string) string {
	return fmt.Sprintf("Verification request completed with status: %s.", description)
}

func (t Texts) VerificationRequestInProgress(description string) string {
	return fmt.Sprintf("Your verification request is in progress: %s.", description)
}

func (t Texts) WaitingForAuthorization() string {
	return "We are still waiting for you to grant access to your verify investor account."
}

func (t Texts) AlreadyAttested(attestationDate time.Time) string {
	return fmt.Sprintf("You were already attested at %s UTC. Attest [again](command: again)?",
		attestationDate.UTC().Format("2006-01-02 15:04:05"))
}

func (t Texts) CurrentAttestationFailed() string {
	return "Your attestation failed. Try [again](command: again)?"
}

func (t Texts) PreviousAttestationFailed() string {
	return "Your previous attestation failed. Try [again](command: again)?"
}

func (t Texts) NoTransactionYet() string {
	return "You have not paid for an attestation yet."
}

func (t Texts) UnrecognizedCommand() string {
	return "Unrecognized command, please send me your address or type [status](command: status)."
}

func (t Texts) ServiceUnavailable() string {
	return "Sorry, something went wrong on our side, please try again later."
}

// usd formats dollars with two fraction digits and thousands separators.
func usd(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String() + frac
	}
	return b.String() + frac
}

func gb(bytes int64) string {
	s := strconv.FormatFloat(float64(bytes)/bytesInGB, 'f', 9, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
