package botserver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/reconciler"
	"github.com/bartossh/Accreditor/repository"
	"github.com/bartossh/Accreditor/texts"
	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
)

const (
	commandAgain  = "again"
	commandStatus = "status"
)

var addressPattern = regexp.MustCompile(`^[A-Z2-7]{32}$`)

// Repository stores receiving addresses and transactions.
type Repository interface {
	WriteReceivingAddress(ctx context.Context, ra *transaction.ReceivingAddress) error
	ReadReceivingAddress(ctx context.Context, receivingAddress string) (transaction.ReceivingAddress, error)
	FindReceivingAddress(ctx context.Context, deviceAddress, userAddress string) (transaction.ReceivingAddress, error)
	WriteTransaction(ctx context.Context, p *transaction.Payment) (int64, error)
	ReadTransaction(ctx context.Context, id int64) (transaction.Transaction, error)
	ReadLatestTransactionByDevice(ctx context.Context, deviceAddress string) (transaction.Transaction, error)
}

// AddressAllocator allocates new receiving addresses in the wallet.
type AddressAllocator interface {
	RequestReceivingAddress(ctx context.Context, deviceAddress, userAddress string) (string, error)
}

// Messenger sends text to the user device.
type Messenger interface {
	SendText(deviceAddress, text string)
}

// Engine advances transactions through the investor verification.
type Engine interface {
	AdvanceAuthorization(ctx context.Context, id int64) (reconciler.Result, error)
	AdvanceVerification(ctx context.Context, id int64) (reconciler.Result, error)
	SweepAuthorizations(ctx context.Context) error
	SweepVerifications(ctx context.Context) error
}

// Provider is the part of the verification provider the bot talks to directly.
type Provider interface {
	AuthorizationURN(identifier string) (string, error)
	VerificationRequestStatus(ctx context.Context, userID, vrID string) (verifyinvestor.StatusReport, error)
	ReviewVerificationRequest(ctx context.Context, userID, vrID string) error
}

// Bot turns device messages and wallet payments in to replies and verification steps.
type Bot struct {
	repo      Repository
	allocator AddressAllocator
	messenger Messenger
	engine    Engine
	provider  Provider
	texts     texts.Texts
	log       logger.Logger
	price     int64
}

// NewBot creates a new Bot. Price is the attestation price in bytes.
func NewBot(
	repo Repository, allocator AddressAllocator, messenger Messenger, engine Engine, provider Provider,
	tx texts.Texts, log logger.Logger, price int64,
) *Bot {
	return &Bot{
		repo:      repo,
		allocator: allocator,
		messenger: messenger,
		engine:    engine,
		provider:  provider,
		texts:     tx,
		log:       log,
		price:     price,
	}
}

// Paired greets the newly paired device.
func (b *Bot) Paired(_ context.Context, deviceAddress string) {
	b.messenger.SendText(deviceAddress, b.texts.Greeting()+"\n\n"+b.texts.WeHaveReferralProgram()+"\n\n"+b.texts.InsertMyAddress())
}

// Text handles the text typed by the user.
func (b *Bot) Text(ctx context.Context, deviceAddress, text string) {
	text = strings.TrimSpace(text)
	switch {
	case strings.EqualFold(text, commandAgain):
		b.again(ctx, deviceAddress)
	case strings.EqualFold(text, commandStatus):
		b.status(ctx, deviceAddress)
	case addressPattern.MatchString(text):
		b.address(ctx, deviceAddress, text)
	default:
		b.messenger.SendText(deviceAddress, b.texts.UnrecognizedCommand())
	}
}

func (b *Bot) address(ctx context.Context, deviceAddress, userAddress string) {
	ra, err := b.receivingAddress(ctx, deviceAddress, userAddress)
	if err != nil {
		b.log.Error(fmt.Sprintf("bot device %s, receiving address for %s: %s", deviceAddress, userAddress, err))
		b.messenger.SendText(deviceAddress, b.texts.ServiceUnavailable())
		return
	}
	b.messenger.SendText(deviceAddress, b.texts.GoingToAttestAddress(userAddress)+"\n\n"+b.texts.PleasePay(ra.ReceivingAddress, ra.Price))
}

func (b *Bot) receivingAddress(ctx context.Context, deviceAddress, userAddress string) (transaction.ReceivingAddress, error) {
	ra, err := b.repo.FindReceivingAddress(ctx, deviceAddress, userAddress)
	if err == nil {
		return ra, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return transaction.ReceivingAddress{}, err
	}

	addr, err := b.allocator.RequestReceivingAddress(ctx, deviceAddress, userAddress)
	if err != nil {
		return transaction.ReceivingAddress{}, err
	}
	ra = transaction.ReceivingAddress{
		ReceivingAddress: addr,
		DeviceAddress:    deviceAddress,
		UserAddress:      userAddress,
		Price:            b.price,
	}
	if err := b.repo.WriteReceivingAddress(ctx, &ra); err != nil {
		return transaction.ReceivingAddress{}, err
	}
	return ra, nil
}

// again starts a fresh attempt for the last attested address, the finished transaction is left as it is.
func (b *Bot) again(ctx context.Context, deviceAddress string) {
	trx, err := b.repo.ReadLatestTransactionByDevice(ctx, deviceAddress)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		b.messenger.SendText(deviceAddress, b.texts.InsertMyAddress())
		return
	case err != nil:
		b.log.Error(fmt.Sprintf("bot device %s, again: %s", deviceAddress, err))
		b.messenger.SendText(deviceAddress, b.texts.ServiceUnavailable())
		return
	}
	b.address(ctx, deviceAddress, trx.UserAddress)
}

func (b *Bot) status(ctx context.Context, deviceAddress string) {
	trx, err := b.repo.ReadLatestTransactionByDevice(ctx, deviceAddress)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		b.messenger.SendText(deviceAddress, b.texts.NoTransactionYet())
		return
	case err != nil:
		b.log.Error(fmt.Sprintf("bot device %s, status: %s", deviceAddress, err))
		b.messenger.SendText(deviceAddress, b.texts.ServiceUnavailable())
		return
	}
	text, err := b.statusText(ctx, &trx)
	if err != nil {
		b.log.Error(fmt.Sprintf("bot device %s, status of transaction %d: %s", deviceAddress, trx.ID, err))
		b.messenger.SendText(deviceAddress, b.texts.ServiceUnavailable())
		return
	}
	b.messenger.SendText(deviceAddress, text)
}

func (b *Bot) statusText(ctx context.Context, trx *transaction.Transaction) (string, error) {
	switch trx.Status {
	case transaction.AwaitingAuthorization:
		urn, err := b.provider.AuthorizationURN(verifyinvestor.Identifier(trx.DeviceAddress, trx.UserAddress))
		if err != nil {
			return "", err
		}
		return b.texts.WaitingForAuthorization() + "\n\n" + b.texts.ClickInvestorLink(urn), nil
	case transaction.AwaitingVerification:
		return b.progressText(ctx, trx), nil
	case transaction.Accredited:
		return b.texts.AlreadyAttested(trx.CreatedAt), nil
	case transaction.VerificationFailed:
		if description, ok := verifyinvestor.Describe(trx.VIVerificationRequestStatus); ok {
			return b.texts.VerificationRequestCompletedWithStatus(description) + "\n\n" + b.texts.PreviousAttestationFailed(), nil
		}
		return b.texts.PreviousAttestationFailed(), nil
	default:
		return "", fmt.Errorf("unknown status %s", trx.Status)
	}
}

// progressText describes the pending verification request, the generic waiting text is used
// when the provider cannot tell or the request is no longer pending.
func (b *Bot) progressText(ctx context.Context, trx *transaction.Transaction) string {
	report, err := b.provider.VerificationRequestStatus(ctx, trx.VIUserID, trx.VIVerificationRequestID)
	if err != nil {
		b.log.Warn(fmt.Sprintf("bot transaction %d, verification request status: %s", trx.ID, err))
		return b.texts.WaitingWhileVerificationRequestFinished()
	}
	if !verifyinvestor.IsNeutral(report.Status) {
		return b.texts.WaitingWhileVerificationRequestFinished()
	}
	description, ok := verifyinvestor.Describe(report.Status)
	if !ok {
		return b.texts.WaitingWhileVerificationRequestFinished()
	}
	return b.texts.VerificationRequestInProgress(description)
}

// HandlePayment handles the payment detected by the wallet. A confirmed payment from the expected
// address becomes a transaction awaiting authorization and is advanced right away.
func (b *Bot) HandlePayment(ctx context.Context, p *transaction.Payment) {
	ra, err := b.repo.ReadReceivingAddress(ctx, p.ReceivingAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			b.log.Warn(fmt.Sprintf("bot payment %s to unknown receiving address %s", p.Unit, p.ReceivingAddress))
			return
		}
		b.log.Error(fmt.Sprintf("bot payment %s: %s", p.Unit, err))
		return
	}

	if !p.IsSingleAuthor {
		b.messenger.SendText(ra.DeviceAddress, b.texts.ReceivedPaymentFromMultipleAddresses())
		return
	}
	if p.AuthorAddress != ra.UserAddress {
		b.messenger.SendText(ra.DeviceAddress, b.texts.ReceivedPaymentNotFromExpectedAddress(ra.UserAddress))
		return
	}
	if p.Amount < ra.Price {
		b.log.Warn(fmt.Sprintf("bot payment %s of %d bytes is below the price %d", p.Unit, p.Amount, ra.Price))
		b.messenger.SendText(ra.DeviceAddress, b.texts.ReceivedPaymentLessThanExpected(p.Amount, ra.Price))
		return
	}

	if !p.IsConfirmed {
		b.messenger.SendText(ra.DeviceAddress, b.texts.ReceivedYourPayment(p.Amount))
		return
	}

	id, err := b.repo.WriteTransaction(ctx, p)
	switch {
	case errors.Is(err, repository.ErrDuplicatePayment):
		b.log.Info(fmt.Sprintf("bot payment %s already stored", p.Unit))
		return
	case err != nil:
		b.log.Error(fmt.Sprintf("bot payment %s, storing transaction: %s", p.Unit, err))
		return
	}

	urn, err := b.provider.AuthorizationURN(verifyinvestor.Identifier(ra.DeviceAddress, ra.UserAddress))
	if err != nil {
		b.log.Error(fmt.Sprintf("bot transaction %d, authorization link: %s", id, err))
		return
	}
	b.messenger.SendText(ra.DeviceAddress, b.texts.PaymentIsConfirmed()+"\n\n"+b.texts.ClickInvestorLink(urn))

	if _, err := b.engine.AdvanceAuthorization(ctx, id); err != nil {
		b.log.Error(fmt.Sprintf("bot transaction %d, advance authorization: %s", id, err))
	}
}
