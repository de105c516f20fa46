package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Accreditor/mutex"
	"github.com/bartossh/Accreditor/telemetry"
	"github.com/bartossh/Accreditor/texts"
	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
)

const (
	device = "0DEVICEADDRESS"
	user   = "USERADDRESS"
)

type env struct {
	store     *memoryStore
	provider  *fakeProvider
	messenger *messengerRecorder
	admin     *adminRecorder
	publisher *publisherRecorder
	texts     texts.Texts
	r         *Reconciler
}

func newEnv(trxs ...transaction.Transaction) *env {
	e := &env{
		store:     newMemoryStore(trxs...),
		provider:  newFakeProvider(),
		messenger: &messengerRecorder{},
		admin:     &adminRecorder{},
		publisher: &publisherRecorder{},
		texts:     texts.New(texts.Config{PriceInUSD: 49, RewardInUSD: 20, VerifyInvestorURL: "https://vi.example"}),
	}
	e.r = New(Config{Concurrency: 4}, e.store, mutex.New(), e.provider, e.messenger, e.admin, e.publisher,
		e.texts, nopLogger{}, telemetry.New())
	return e
}

func awaitingAuthorization(id int64) transaction.Transaction {
	return transaction.Transaction{
		ID:               id,
		ReceivingAddress: fmt.Sprintf("RECEIVING%d", id),
		DeviceAddress:    device,
		UserAddress:      user,
		Status:           transaction.AwaitingAuthorization,
	}
}

func awaitingVerification(id int64, vrID string) transaction.Transaction {
	trx := awaitingAuthorization(id)
	trx.Status = transaction.AwaitingVerification
	trx.VIUserID = "42"
	trx.VIVerificationRequestID = vrID
	return trx
}

func finished(id int64, status transaction.VIStatus, vrStatus string) transaction.Transaction {
	trx := awaitingVerification(id, "vr-1")
	trx.Status = status
	trx.VIVerificationRequestStatus = vrStatus
	return trx
}

func assertConsistent(t *testing.T, s *memoryStore) {
	t.Helper()
	for _, e := range s.transitions() {
		assert.True(t, e.from.CanMoveTo(e.to), "forbidden transition %s -> %s", e.from, e.to)
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, trx := range s.rows {
		assert.NoError(t, trx.Validate())
	}
}

func TestAdvanceAuthorization(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize(device, user, "42")

	res, err := e.r.AdvanceAuthorization(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Result{Outcome: Authorized, TransactionID: 1}, res)

	trx := e.store.get(1)
	assert.Equal(t, transaction.AwaitingVerification, trx.Status)
	assert.Equal(t, "42", trx.VIUserID)
	assert.Equal(t, "vr-42-1", trx.VIVerificationRequestID)
	assert.Empty(t, trx.VIVerificationRequestStatus)

	msgs := e.messenger.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, device, msgs[0].device)
	assert.Equal(t, e.texts.ReceivedAuthToUserAccount()+"\n\n"+e.texts.WaitingWhileVerificationRequestFinished(), msgs[0].text)
	assert.Empty(t, e.admin.all())
	assertConsistent(t, e.store)
}

func TestAdvanceAuthorizationUsesDeviceQualifiedIdentifier(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize("OTHERDEVICE", user, "42")

	res, err := e.r.AdvanceAuthorization(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, NoOp, res.Outcome)
	assert.Equal(t, transaction.AwaitingAuthorization, e.store.get(1).Status)
}

func TestAdvanceAuthorizationNoOp(t *testing.T) {
	testcases := []struct {
		name  string
		trx   transaction.Transaction
		setup func(p *fakeProvider)
	}{
		{
			name:  "not authorized",
			trx:   awaitingAuthorization(1),
			setup: func(p *fakeProvider) {},
		},
		{
			name:  "check authorization failed",
			trx:   awaitingAuthorization(1),
			setup: func(p *fakeProvider) { p.authErr = verifyinvestor.ErrProvider },
		},
		{
			name: "create verification request failed",
			trx:  awaitingAuthorization(1),
			setup: func(p *fakeProvider) {
				p.authorize(device, user, "42")
				p.createErr = verifyinvestor.ErrTransport
			},
		},
		{
			name:  "awaiting verification",
			trx:   awaitingVerification(1, "vr-1"),
			setup: func(p *fakeProvider) { p.authorize(device, user, "42") },
		},
		{
			name:  "accredited",
			trx:   finished(1, transaction.Accredited, verifyinvestor.StatusAccredited),
			setup: func(p *fakeProvider) { p.authorize(device, user, "42") },
		},
		{
			name:  "failed",
			trx:   finished(1, transaction.VerificationFailed, verifyinvestor.StatusNotAccredited),
			setup: func(p *fakeProvider) { p.authorize(device, user, "42") },
		},
	}

	for i, c := range testcases {
		t.Run(fmt.Sprintf("test case %v %s", i, c.name), func(t *testing.T) {
			e := newEnv(c.trx)
			c.setup(e.provider)

			res, err := e.r.AdvanceAuthorization(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, Result{Outcome: NoOp, TransactionID: 1}, res)
			assert.Equal(t, c.trx, e.store.get(1))
			assert.Empty(t, e.messenger.all())
			assert.Empty(t, e.store.transitions())
		})
	}
}

func TestAdvanceAuthorizationNotInStateZeroSkipsProvider(t *testing.T) {
	e := newEnv(awaitingVerification(1, "vr-1"))

	_, err := e.r.AdvanceAuthorization(context.Background(), 1)
	require.NoError(t, err)

	check, create, status, alive := e.provider.calls()
	assert.Zero(t, check+create+status+alive)
}

func TestAdvanceVerificationTerminal(t *testing.T) {
	testcases := []struct {
		status  string
		next    transaction.VIStatus
		outcome Outcome
	}{
		{verifyinvestor.StatusAccredited, transaction.Accredited, Accredited},
		{verifyinvestor.StatusDeclinedByInvestor, transaction.VerificationFailed, Failed},
		{verifyinvestor.StatusNotAccredited, transaction.VerificationFailed, Failed},
		{verifyinvestor.StatusAcceptedExpire, transaction.VerificationFailed, Failed},
		{verifyinvestor.StatusDeclinedExpire, transaction.VerificationFailed, Failed},
		{verifyinvestor.StatusSelfNotAccredited, transaction.VerificationFailed, Failed},
	}

	for i, c := range testcases {
		t.Run(fmt.Sprintf("test case %v %s", i, c.status), func(t *testing.T) {
			e := newEnv(awaitingVerification(7, "vr-7"))
			e.provider.setStatus("vr-7", verifyinvestor.StatusReport{Status: c.status, HTTPStatus: 200})

			res, err := e.r.AdvanceVerification(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, Result{Outcome: c.outcome, TransactionID: 7}, res)

			trx := e.store.get(7)
			assert.Equal(t, c.next, trx.Status)
			assert.Equal(t, c.status, trx.VIVerificationRequestStatus)

			description, ok := verifyinvestor.Describe(c.status)
			require.True(t, ok)
			expected := e.texts.VerificationRequestCompletedWithStatus(description)
			if c.outcome == Failed {
				expected += "\n\n" + e.texts.CurrentAttestationFailed()
			}
			msgs := e.messenger.all()
			require.Len(t, msgs, 1)
			assert.Equal(t, message{device, expected}, msgs[0])

			if c.outcome == Accredited {
				assert.Equal(t, []int64{7}, e.publisher.all())
			} else {
				assert.Empty(t, e.publisher.all())
			}
			assertConsistent(t, e.store)
		})
	}
}

func TestAdvanceVerificationNeutralStatusesKeepWaiting(t *testing.T) {
	for i, status := range []string{
		verifyinvestor.StatusWaitingForInvestorAcceptance,
		verifyinvestor.StatusAcceptedByInvestor,
		verifyinvestor.StatusWaitingForReview,
		verifyinvestor.StatusInReview,
		verifyinvestor.StatusWaitingForInformationFromInvestor,
	} {
		status := status
		t.Run(fmt.Sprintf("test case %v %s", i, status), func(t *testing.T) {
			e := newEnv(awaitingVerification(3, "vr-3"))
			e.provider.setStatus("vr-3", verifyinvestor.StatusReport{Status: status, HTTPStatus: 200})

			res, err := e.r.AdvanceVerification(context.Background(), 3)
			require.NoError(t, err)
			assert.Equal(t, NoOp, res.Outcome)
			assert.Equal(t, awaitingVerification(3, "vr-3"), e.store.get(3))
			assert.Empty(t, e.messenger.all())
			assert.Empty(t, e.admin.all())
		})
	}
}

func TestAdvanceVerificationNotFoundWithProviderAlive(t *testing.T) {
	e := newEnv(awaitingVerification(5, "vr-5"))

	res, err := e.r.AdvanceVerification(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Result{Outcome: Reset, TransactionID: 5}, res)

	trx := e.store.get(5)
	assert.Equal(t, transaction.AwaitingAuthorization, trx.Status)
	assert.Empty(t, trx.VIUserID)
	assert.Empty(t, trx.VIVerificationRequestID)
	assert.Empty(t, e.admin.all())
	_, _, _, alive := e.provider.calls()
	assert.Equal(t, 1, alive)
	assertConsistent(t, e.store)
}

func TestAdvanceVerificationNotFoundWithProviderDown(t *testing.T) {
	e := newEnv(awaitingVerification(5, "vr-5"))
	e.provider.aliveErr = verifyinvestor.ErrTransport

	res, err := e.r.AdvanceVerification(context.Background(), 5)
	assert.ErrorIs(t, err, ErrProviderUnreachable)
	assert.Equal(t, NoOp, res.Outcome)
	assert.Equal(t, awaitingVerification(5, "vr-5"), e.store.get(5))
	assert.Len(t, e.admin.all(), 1)
	assert.Empty(t, e.messenger.all())
}

func TestAdvanceVerificationNotFoundIgnoresPayload(t *testing.T) {
	e := newEnv(awaitingVerification(5, "vr-5"))
	e.provider.aliveErr = verifyinvestor.ErrTransport
	e.provider.setStatus("vr-5", verifyinvestor.StatusReport{Status: verifyinvestor.StatusAccredited, HTTPStatus: 404})

	res, err := e.r.AdvanceVerification(context.Background(), 5)
	assert.ErrorIs(t, err, ErrProviderUnreachable)
	assert.Equal(t, NoOp, res.Outcome)
	assert.Equal(t, transaction.AwaitingVerification, e.store.get(5).Status)
	assert.Empty(t, e.publisher.all())
}

func TestAdvanceVerificationNoVerificationRequest(t *testing.T) {
	e := newEnv(awaitingVerification(5, "vr-5"))
	e.provider.setStatus("vr-5", verifyinvestor.StatusReport{Status: verifyinvestor.StatusNoVerificationRequest, HTTPStatus: 200})

	res, err := e.r.AdvanceVerification(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Reset, res.Outcome)
	assert.Equal(t, transaction.AwaitingAuthorization, e.store.get(5).Status)
	_, _, _, alive := e.provider.calls()
	assert.Zero(t, alive)
	assertConsistent(t, e.store)
}

func TestAdvanceVerificationUnknownStatus(t *testing.T) {
	e := newEnv(awaitingVerification(5, "vr-5"))
	e.provider.setStatus("vr-5", verifyinvestor.StatusReport{Status: "totally_new_status", HTTPStatus: 200})

	res, err := e.r.AdvanceVerification(context.Background(), 5)
	assert.ErrorIs(t, err, ErrUnknownStatus)
	assert.Equal(t, NoOp, res.Outcome)
	assert.Equal(t, awaitingVerification(5, "vr-5"), e.store.get(5))
	assert.Len(t, e.admin.all(), 1)
	assert.Empty(t, e.messenger.all())
}

func TestAdvanceVerificationProviderErrorKeepsState(t *testing.T) {
	e := newEnv(awaitingVerification(5, "vr-5"))
	e.provider.statusErr = verifyinvestor.ErrProvider

	res, err := e.r.AdvanceVerification(context.Background(), 5)
	assert.ErrorIs(t, err, verifyinvestor.ErrProvider)
	assert.Equal(t, NoOp, res.Outcome)
	assert.Equal(t, awaitingVerification(5, "vr-5"), e.store.get(5))
	_, _, _, alive := e.provider.calls()
	assert.Zero(t, alive)
}

func TestAdvanceVerificationNotInStateOne(t *testing.T) {
	for i, trx := range []transaction.Transaction{
		awaitingAuthorization(9),
		finished(9, transaction.Accredited, verifyinvestor.StatusAccredited),
		finished(9, transaction.VerificationFailed, verifyinvestor.StatusDeclinedByInvestor),
	} {
		trx := trx
		t.Run(fmt.Sprintf("test case %v", i), func(t *testing.T) {
			e := newEnv(trx)
			e.provider.setStatus("vr-1", verifyinvestor.StatusReport{Status: verifyinvestor.StatusNoVerificationRequest, HTTPStatus: 200})

			res, err := e.r.AdvanceVerification(context.Background(), 9)
			require.NoError(t, err)
			assert.Equal(t, NoOp, res.Outcome)
			assert.Equal(t, trx, e.store.get(9))
			_, _, status, _ := e.provider.calls()
			assert.Zero(t, status)
		})
	}
}

func TestAdvancePublishFailureNotifiesAdmin(t *testing.T) {
	e := newEnv(awaitingVerification(2, "vr-2"))
	e.publisher.err = errBoom
	e.provider.setStatus("vr-2", verifyinvestor.StatusReport{Status: verifyinvestor.StatusAccredited, HTTPStatus: 200})

	res, err := e.r.AdvanceVerification(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, Accredited, res.Outcome)
	assert.Equal(t, transaction.Accredited, e.store.get(2).Status)
	assert.Len(t, e.admin.all(), 1)
}

func TestAdvanceLockFailure(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize(device, user, "42")
	r := New(Config{}, e.store, failingLocker{}, e.provider, e.messenger, e.admin, e.publisher, e.texts, nopLogger{}, telemetry.New())

	_, err := r.AdvanceAuthorization(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLock)
	_, err = r.AdvanceVerification(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLock)

	check, _, _, _ := e.provider.calls()
	assert.Zero(t, check)
	assert.Equal(t, transaction.AwaitingAuthorization, e.store.get(1).Status)
}

func TestAdvanceAuthorizationConcurrentCreatesSingleRequest(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize(device, user, "42")
	e.provider.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	results := make(chan Result, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.r.AdvanceAuthorization(context.Background(), 1)
			if !assert.NoError(t, err) {
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var authorized int
	for res := range results {
		if res.Outcome == Authorized {
			authorized++
		}
	}
	assert.Equal(t, 1, authorized)
	_, create, _, _ := e.provider.calls()
	assert.Equal(t, 1, create)
	assert.Len(t, e.store.transitions(), 1)
	assert.Len(t, e.messenger.all(), 1)
}

func TestAdvanceConcurrentStepsNeverMutateSameEpoch(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize(device, user, "42")
	e.provider.setStatus("vr-42-1", verifyinvestor.StatusReport{Status: verifyinvestor.StatusAccredited, HTTPStatus: 200})
	e.provider.delay = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.r.AdvanceAuthorization(context.Background(), 1)
		}()
		go func() {
			defer wg.Done()
			e.r.AdvanceVerification(context.Background(), 1)
		}()
	}
	wg.Wait()

	edges := e.store.transitions()
	require.NotEmpty(t, edges)
	seen := make(map[transaction.VIStatus]int)
	for _, ed := range edges {
		seen[ed.from]++
	}
	assert.LessOrEqual(t, seen[transaction.AwaitingAuthorization], 1)
	assert.LessOrEqual(t, seen[transaction.AwaitingVerification], 1)
	assertConsistent(t, e.store)

	_, create, _, _ := e.provider.calls()
	assert.Equal(t, 1, create)
}

func TestSweepAuthorizations(t *testing.T) {
	trxs := []transaction.Transaction{awaitingAuthorization(1), awaitingAuthorization(2), awaitingVerification(3, "vr-3")}
	trxs[1].DeviceAddress = "NOTAUTHORIZEDDEVICE"
	e := newEnv(trxs...)
	e.provider.authorize(device, user, "42")

	require.NoError(t, e.r.SweepAuthorizations(context.Background()))

	assert.Equal(t, transaction.AwaitingVerification, e.store.get(1).Status)
	assert.Equal(t, transaction.AwaitingAuthorization, e.store.get(2).Status)
	assert.Equal(t, trxs[2], e.store.get(3))
	check, _, _, _ := e.provider.calls()
	assert.Equal(t, 2, check)
}

func TestSweepVerificationsDoesNotShortCircuit(t *testing.T) {
	var trxs []transaction.Transaction
	for i := int64(1); i <= 12; i++ {
		trxs = append(trxs, awaitingVerification(i, fmt.Sprintf("vr-%d", i)))
	}
	e := newEnv(trxs...)
	e.provider.aliveErr = errBoom
	for i := int64(1); i <= 12; i++ {
		switch i % 3 {
		case 0:
			e.provider.setStatus(fmt.Sprintf("vr-%d", i), verifyinvestor.StatusReport{Status: verifyinvestor.StatusAccredited, HTTPStatus: 200})
		case 1:
			e.provider.setStatus(fmt.Sprintf("vr-%d", i), verifyinvestor.StatusReport{Status: "brand_new_status", HTTPStatus: 200})
		default:
			// not found with the provider down
		}
	}

	require.NoError(t, e.r.SweepVerifications(context.Background()))

	for i := int64(1); i <= 12; i++ {
		if i%3 == 0 {
			assert.Equal(t, transaction.Accredited, e.store.get(i).Status)
			continue
		}
		assert.Equal(t, transaction.AwaitingVerification, e.store.get(i).Status)
	}
	assert.Len(t, e.publisher.all(), 4)
	assert.Len(t, e.admin.all(), 8)
	_, _, status, _ := e.provider.calls()
	assert.Equal(t, 12, status)
	assertConsistent(t, e.store)
}

func TestSweepReadFailure(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.store.readErr = errBoom

	assert.ErrorIs(t, e.r.SweepAuthorizations(context.Background()), errBoom)
	assert.ErrorIs(t, e.r.SweepVerifications(context.Background()), errBoom)
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize(device, user, "42")
	e.provider.setStatus("vr-42-1", verifyinvestor.StatusReport{Status: verifyinvestor.StatusAccredited, HTTPStatus: 200})
	e.r.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return e.store.get(1).Status == transaction.Accredited
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, []int64{1}, e.publisher.all())
}

func TestRunSweepsBeforeFirstTick(t *testing.T) {
	e := newEnv(awaitingAuthorization(1))
	e.provider.authorize(device, user, "42")
	e.r.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.r.Run(ctx)

	assert.Eventually(t, func() bool {
		return e.store.get(1).Status == transaction.AwaitingVerification
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckMove(t *testing.T) {
	statuses := []transaction.VIStatus{
		transaction.AwaitingAuthorization, transaction.AwaitingVerification,
		transaction.Accredited, transaction.VerificationFailed,
	}
	allowed := map[[2]transaction.VIStatus]bool{
		{transaction.AwaitingAuthorization, transaction.AwaitingVerification}: true,
		{transaction.AwaitingVerification, transaction.AwaitingAuthorization}: true,
		{transaction.AwaitingVerification, transaction.Accredited}:            true,
		{transaction.AwaitingVerification, transaction.VerificationFailed}:    true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("test case %s to %s", from, to), func(t *testing.T) {
				err := checkMove(&transaction.Transaction{ID: 1, Status: from}, to)
				if allowed[[2]transaction.VIStatus{from, to}] {
					assert.NoError(t, err)
					return
				}
				assert.ErrorIs(t, err, ErrForbiddenTransition)
			})
		}
	}
}
