package botserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/notifications"
	"github.com/bartossh/Accreditor/reconciler"
	"github.com/bartossh/Accreditor/repository"
	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
)

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
func (nopLogger) Fatal(string) {}

type memoryRepository struct {
	mux       sync.Mutex
	addresses map[string]transaction.ReceivingAddress
	trxs      map[int64]transaction.Transaction
	units     map[string]struct{}
	nextID    int64
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		addresses: make(map[string]transaction.ReceivingAddress),
		trxs:      make(map[int64]transaction.Transaction),
		units:     make(map[string]struct{}),
	}
}

func (r *memoryRepository) WriteReceivingAddress(_ context.Context, ra *transaction.ReceivingAddress) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.addresses[ra.ReceivingAddress] = *ra
	return nil
}

func (r *memoryRepository) ReadReceivingAddress(_ context.Context, receivingAddress string) (transaction.ReceivingAddress, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	ra, ok := r.addresses[receivingAddress]
	if !ok {
		return transaction.ReceivingAddress{}, repository.ErrNotFound
	}
	return ra, nil
}

func (r *memoryRepository) FindReceivingAddress(_ context.Context, deviceAddress, userAddress string) (transaction.ReceivingAddress, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, ra := range r.addresses {
		if ra.DeviceAddress == deviceAddress && ra.UserAddress == userAddress {
			return ra, nil
		}
	}
	return transaction.ReceivingAddress{}, repository.ErrNotFound
}

func (r *memoryRepository) WriteTransaction(_ context.Context, p *transaction.Payment) (int64, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.units[p.Unit]; ok {
		return 0, repository.ErrDuplicatePayment
	}
	ra, ok := r.addresses[p.ReceivingAddress]
	if !ok {
		return 0, repository.ErrInsertFailed
	}
	r.units[p.Unit] = struct{}{}
	r.nextID++
	r.trxs[r.nextID] = transaction.Transaction{
		ID:               r.nextID,
		ReceivingAddress: ra.ReceivingAddress,
		DeviceAddress:    ra.DeviceAddress,
		UserAddress:      ra.UserAddress,
		PaymentUnit:      p.Unit,
		Amount:           p.Amount,
		Status:           transaction.AwaitingAuthorization,
	}
	return r.nextID, nil
}

func (r *memoryRepository) ReadTransaction(_ context.Context, id int64) (transaction.Transaction, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	trx, ok := r.trxs[id]
	if !ok {
		return transaction.Transaction{}, repository.ErrNotFound
	}
	return trx, nil
}

func (r *memoryRepository) ReadLatestTransactionByDevice(_ context.Context, deviceAddress string) (transaction.Transaction, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	var latest transaction.Transaction
	for _, trx := range r.trxs {
		if trx.DeviceAddress == deviceAddress && trx.ID > latest.ID {
			latest = trx
		}
	}
	if latest.ID == 0 {
		return transaction.Transaction{}, repository.ErrNotFound
	}
	return latest, nil
}

func (r *memoryRepository) put(trx transaction.Transaction) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.trxs[trx.ID] = trx
	if trx.ID > r.nextID {
		r.nextID = trx.ID
	}
}

type fakeAllocator struct {
	mux   sync.Mutex
	calls int
	err   error
}

func (a *fakeAllocator) RequestReceivingAddress(_ context.Context, deviceAddress, userAddress string) (string, error) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return fmt.Sprintf("RECEIVING%d", a.calls), nil
}

type messengerRecorder struct {
	mux  sync.Mutex
	sent []string
}

func (m *messengerRecorder) SendText(_, text string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.sent = append(m.sent, text)
}

func (m *messengerRecorder) all() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string(nil), m.sent...)
}

type engineRecorder struct {
	mux            sync.Mutex
	authorizations []int64
	verifications  []int64
	sweeps         []string
	err            error
}

func (e *engineRecorder) AdvanceAuthorization(_ context.Context, id int64) (reconciler.Result, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.authorizations = append(e.authorizations, id)
	return reconciler.Result{Outcome: reconciler.Authorized, TransactionID: id}, e.err
}

func (e *engineRecorder) AdvanceVerification(_ context.Context, id int64) (reconciler.Result, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.verifications = append(e.verifications, id)
	return reconciler.Result{Outcome: reconciler.Accredited, TransactionID: id}, e.err
}

func (e *engineRecorder) SweepAuthorizations(context.Context) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.sweeps = append(e.sweeps, "authorizations")
	return e.err
}

func (e *engineRecorder) SweepVerifications(context.Context) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.sweeps = append(e.sweeps, "verifications")
	return e.err
}

type fakeProvider struct {
	staging  bool
	reviewed []string
	status   string
	err      error
}

func (p *fakeProvider) VerificationRequestStatus(_ context.Context, userID, vrID string) (verifyinvestor.StatusReport, error) {
	if p.err != nil {
		return verifyinvestor.StatusReport{}, p.err
	}
	return verifyinvestor.StatusReport{Status: p.status, HTTPStatus: 200}, nil
}

func (p *fakeProvider) AuthorizationURN(identifier string) (string, error) {
	if identifier == "" {
		return "", verifyinvestor.ErrInvalidInput
	}
	return "/authorization/token?identifier=" + identifier, nil
}

func (p *fakeProvider) ReviewVerificationRequest(_ context.Context, userID, vrID string) error {
	if !p.staging {
		return verifyinvestor.ErrStagingOnly
	}
	p.reviewed = append(p.reviewed, userID+"/"+vrID)
	return nil
}

type hookRecorder struct {
	mux   sync.Mutex
	hooks map[string]string
}

func (h *hookRecorder) AddHook(hook notifications.Hook) {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.hooks == nil {
		h.hooks = make(map[string]string)
	}
	h.hooks[hook.URL] = hook.Token
}

func (h *hookRecorder) RemoveHook(url string) {
	h.mux.Lock()
	defer h.mux.Unlock()
	delete(h.hooks, url)
}

type logsStub struct {
	logs    []logger.Log
	service string
	level   string
	limit   int64
	err     error
}

func (l *logsStub) ReadLogs(_ context.Context, service, level string, limit int64) ([]logger.Log, error) {
	l.service, l.level, l.limit = service, level, limit
	return l.logs, l.err
}

type wsStub struct{}

func (wsStub) Handler(context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error { return fiber.ErrUpgradeRequired }
}

var errWallet = errors.New("wallet locked")
