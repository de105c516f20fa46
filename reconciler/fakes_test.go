package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("status conflict")
	errBoom     = errors.New("boom")
)

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
func (nopLogger) Fatal(string) {}

type edge struct {
	from, to transaction.VIStatus
}

// memoryStore mirrors the conditional updates of the PostgreSQL repository.
type memoryStore struct {
	mux     sync.Mutex
	rows    map[int64]transaction.Transaction
	edges   []edge
	readErr error
}

func newMemoryStore(trxs ...transaction.Transaction) *memoryStore {
	s := &memoryStore{rows: make(map[int64]transaction.Transaction)}
	for _, trx := range trxs {
		s.rows[trx.ID] = trx
	}
	return s
}

func (s *memoryStore) ReadTransaction(_ context.Context, id int64) (transaction.Transaction, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	trx, ok := s.rows[id]
	if !ok {
		return transaction.Transaction{}, errNotFound
	}
	return trx, nil
}

func (s *memoryStore) ReadTransactionsByStatus(_ context.Context, status transaction.VIStatus) ([]transaction.Transaction, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []transaction.Transaction
	for _, trx := range s.rows {
		if trx.Status == status {
			out = append(out, trx)
		}
	}
	return out, nil
}

func (s *memoryStore) WriteAuthorization(_ context.Context, id int64, userID, vrID string) error {
	return s.move(id, transaction.AwaitingAuthorization, transaction.AwaitingVerification, func(trx *transaction.Transaction) {
		trx.VIUserID = userID
		trx.VIVerificationRequestID = vrID
	})
}

func (s *memoryStore) WriteVerificationResult(_ context.Context, id int64, status transaction.VIStatus, vrStatus string) error {
	return s.move(id, transaction.AwaitingVerification, status, func(trx *transaction.Transaction) {
		trx.VIVerificationRequestStatus = vrStatus
	})
}

func (s *memoryStore) ResetVerification(_ context.Context, id int64) error {
	return s.move(id, transaction.AwaitingVerification, transaction.AwaitingAuthorization, func(trx *transaction.Transaction) {
		trx.VIUserID = ""
		trx.VIVerificationRequestID = ""
		trx.VIVerificationRequestStatus = ""
	})
}

func (s *memoryStore) move(id int64, from, to transaction.VIStatus, set func(trx *transaction.Transaction)) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	trx, ok := s.rows[id]
	if !ok {
		return errNotFound
	}
	if trx.Status != from {
		return errConflict
	}
	set(&trx)
	trx.Status = to
	s.rows[id] = trx
	s.edges = append(s.edges, edge{from: from, to: to})
	return nil
}

func (s *memoryStore) get(id int64) transaction.Transaction {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.rows[id]
}

func (s *memoryStore) transitions() []edge {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]edge(nil), s.edges...)
}

// fakeProvider answers per user and counts the calls.
type fakeProvider struct {
	mux           sync.Mutex
	authorized    map[string]string // identifier -> user id
	authErr       error
	createErr     error
	statuses      map[string]verifyinvestor.StatusReport // vr id -> report
	statusErr     error
	aliveErr      error
	delay         time.Duration
	checkCalls    int
	createCalls   int
	statusCalls   int
	aliveCalls    int
	nextRequestID int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		authorized: make(map[string]string),
		statuses:   make(map[string]verifyinvestor.StatusReport),
	}
}

func (p *fakeProvider) authorize(deviceAddress, userAddress, userID string) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.authorized[verifyinvestor.Identifier(deviceAddress, userAddress)] = userID
}

func (p *fakeProvider) setStatus(vrID string, report verifyinvestor.StatusReport) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.statuses[vrID] = report
}

func (p *fakeProvider) wait() {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
}

func (p *fakeProvider) CheckAuthorization(_ context.Context, identifier string) (verifyinvestor.Authorization, error) {
	p.wait()
	p.mux.Lock()
	defer p.mux.Unlock()
	p.checkCalls++
	if p.authErr != nil {
		return verifyinvestor.Authorization{}, p.authErr
	}
	userID, ok := p.authorized[identifier]
	if !ok {
		return verifyinvestor.Authorization{}, nil
	}
	return verifyinvestor.Authorization{UserID: userID, Authorized: true}, nil
}

func (p *fakeProvider) CreateVerificationRequest(_ context.Context, userID string) (string, error) {
	p.wait()
	p.mux.Lock()
	defer p.mux.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return "", p.createErr
	}
	p.nextRequestID++
	return fmt.Sprintf("vr-%s-%d", userID, p.nextRequestID), nil
}

func (p *fakeProvider) VerificationRequestStatus(_ context.Context, userID, vrID string) (verifyinvestor.StatusReport, error) {
	p.wait()
	p.mux.Lock()
	defer p.mux.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return verifyinvestor.StatusReport{}, p.statusErr
	}
	report, ok := p.statuses[vrID]
	if !ok {
		return verifyinvestor.StatusReport{HTTPStatus: 404}, nil
	}
	return report, nil
}

func (p *fakeProvider) Alive(context.Context) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.aliveCalls++
	return p.aliveErr
}

func (p *fakeProvider) calls() (check, create, status, alive int) {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.checkCalls, p.createCalls, p.statusCalls, p.aliveCalls
}

type message struct {
	device, text string
}

type messengerRecorder struct {
	mux  sync.Mutex
	sent []message
}

func (m *messengerRecorder) SendText(deviceAddress, text string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.sent = append(m.sent, message{deviceAddress, text})
}

func (m *messengerRecorder) all() []message {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]message(nil), m.sent...)
}

type adminRecorder struct {
	mux      sync.Mutex
	subjects []string
}

func (a *adminRecorder) Notify(subject, _ string) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.subjects = append(a.subjects, subject)
}

func (a *adminRecorder) all() []string {
	a.mux.Lock()
	defer a.mux.Unlock()
	return append([]string(nil), a.subjects...)
}

type publisherRecorder struct {
	mux       sync.Mutex
	published []int64
	err       error
}

func (p *publisherRecorder) PublishAttestation(trx *transaction.Transaction) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, trx.ID)
	return nil
}

func (p *publisherRecorder) all() []int64 {
	p.mux.Lock()
	defer p.mux.Unlock()
	return append([]int64(nil), p.published...)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, ...string) (func(), error) {
	return nil, errBoom
}
