package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/texts"
	"github.com/bartossh/Accreditor/transaction"
	"github.com/bartossh/Accreditor/verifyinvestor"
)

const (
	defaultSweepInterval = time.Minute
	defaultConcurrency   = 8
)

const (
	metricAuthorized      = "accreditor_authorized_total"
	metricReset           = "accreditor_reset_total"
	metricAccredited      = "accreditor_accredited_total"
	metricFailed          = "accreditor_failed_total"
	metricSweeps          = "accreditor_sweeps_total"
	metricSweepDuration   = "accreditor_sweep_duration"
	metricProviderLatency = "accreditor_provider_call_duration"
	metricLastSweep       = "accreditor_last_sweep_timestamp"
)

var (
	ErrUnknownStatus       = errors.New("unknown verification request status")
	ErrProviderUnreachable = errors.New("verification provider unreachable")
	ErrLock                = errors.New("cannot lock transaction")
	ErrPersist             = errors.New("cannot persist transaction status")
	ErrForbiddenTransition = errors.New("forbidden transaction status transition")
)

// Outcome tags the result of a single transaction step.
type Outcome int

const (
	NoOp       Outcome = iota // NoOp means the transaction was left untouched.
	Authorized                // Authorized means the transaction moved from 0 to 1.
	Reset                     // Reset means the verification request is gone and the transaction moved back from 1 to 0.
	Accredited                // Accredited means the transaction moved from 1 to 2.
	Failed                    // Failed means the transaction moved from 1 to 3.
)

func (o Outcome) String() string {
	switch o {
	case NoOp:
		return "no-op"
	case Authorized:
		return "authorized"
	case Reset:
		return "reset"
	case Accredited:
		return "accredited"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome_%d", int(o))
	}
}

// Result is the result of a single transaction step.
// An Accredited result is the signal for the attestation.
type Result struct {
	Outcome       Outcome
	TransactionID int64
}

// Transitioned reports whether the step mutated the transaction.
func (r Result) Transitioned() bool {
	return r.Outcome != NoOp
}

// Repository reads transactions and persists their verification status.
// Writes are expected to fail when the stored status differs from the one the transition starts at.
type Repository interface {
	ReadTransaction(ctx context.Context, id int64) (transaction.Transaction, error)
	ReadTransactionsByStatus(ctx context.Context, status transaction.VIStatus) ([]transaction.Transaction, error)
	WriteAuthorization(ctx context.Context, id int64, userID, vrID string) error
	WriteVerificationResult(ctx context.Context, id int64, status transaction.VIStatus, vrStatus string) error
	ResetVerification(ctx context.Context, id int64) error
}

// Locker provides exclusive locks scoped by keys. Release must be safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// Provider is the verification provider.
type Provider interface {
	CheckAuthorization(ctx context.Context, identifier string) (verifyinvestor.Authorization, error)
	CreateVerificationRequest(ctx context.Context, userID string) (string, error)
	VerificationRequestStatus(ctx context.Context, userID, vrID string) (verifyinvestor.StatusReport, error)
	Alive(ctx context.Context) error
}

// Messenger sends text to the user device.
type Messenger interface {
	SendText(deviceAddress, text string)
}

// AdminNotifier notifies administrators.
type AdminNotifier interface {
	Notify(subject, detail string)
}

// AttestationPublisher requests attestation of accredited transactions.
type AttestationPublisher interface {
	PublishAttestation(trx *transaction.Transaction) error
}

// Measurer records telemetry.
type Measurer interface {
	CreateCounter(name, description string)
	IncrementCounter(name string) bool
	CreateObservableHistogram(name, description string)
	RecordHistogramTime(name string, t time.Duration) bool
	CreateObservableGauge(name, description string)
	SetToCurrentTimeGauge(name string) bool
}

// Config contains configuration of the reconciler.
type Config struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"` // SweepIntervalSeconds between two sweeps, 60 if not set.
	Concurrency          int `yaml:"concurrency"`            // Concurrency is the number of transactions advanced at once by a sweep, 8 if not set.
}

// Reconciler advances transactions through the investor verification.
// Each step holds the transaction lock from the status read until the status write completes.
type Reconciler struct {
	repo      Repository
	locker    Locker
	provider  Provider
	messenger Messenger
	admin     AdminNotifier
	publisher AttestationPublisher
	texts     texts.Texts
	log       logger.Logger
	m         Measurer
	interval  time.Duration
	workers   int
}

// New creates a new Reconciler.
func New(
	cfg Config, repo Repository, locker Locker, provider Provider,
	messenger Messenger, admin AdminNotifier, publisher AttestationPublisher,
	tx texts.Texts, log logger.Logger, m Measurer,
) *Reconciler {
	interval := defaultSweepInterval
	if cfg.SweepIntervalSeconds > 0 {
		interval = time.Duration(cfg.SweepIntervalSeconds) * time.Second
	}
	workers := defaultConcurrency
	if cfg.Concurrency > 0 {
		workers = cfg.Concurrency
	}

	m.CreateCounter(metricAuthorized, "Transactions authorized by the user.")
	m.CreateCounter(metricReset, "Transactions moved back to awaiting authorization.")
	m.CreateCounter(metricAccredited, "Transactions verified as accredited.")
	m.CreateCounter(metricFailed, "Transactions that failed the verification.")
	m.CreateCounter(metricSweeps, "Sweeps run.")
	m.CreateObservableHistogram(metricSweepDuration, "Duration of a sweep in microseconds.")
	m.CreateObservableHistogram(metricProviderLatency, "Duration of a verification provider call in microseconds.")
	m.CreateObservableGauge(metricLastSweep, "Time of the last finished sweep.")

	return &Reconciler{
		repo:      repo,
		locker:    locker,
		provider:  provider,
		messenger: messenger,
		admin:     admin,
		publisher: publisher,
		texts:     tx,
		log:       log,
		m:         m,
		interval:  interval,
		workers:   workers,
	}
}

// AdvanceAuthorization checks if the user granted access to the VerifyInvestor account and,
// when he did, creates the verification request and moves the transaction from 0 to 1.
// Not granted access or a provider failure leave the transaction untouched for the next sweep.
func (r *Reconciler) AdvanceAuthorization(ctx context.Context, id int64) (Result, error) {
	noop := Result{Outcome: NoOp, TransactionID: id}

	release, err := r.lock(ctx, id)
	if err != nil {
		return noop, err
	}
	defer release()

	trx, err := r.repo.ReadTransaction(ctx, id)
	if err != nil {
		return noop, err
	}
	if trx.Status != transaction.AwaitingAuthorization {
		return noop, nil
	}

	start := time.Now()
	auth, err := r.provider.CheckAuthorization(ctx, verifyinvestor.Identifier(trx.DeviceAddress, trx.UserAddress))
	r.m.RecordHistogramTime(metricProviderLatency, time.Since(start))
	if err != nil {
		r.log.Warn(fmt.Sprintf("reconciler transaction %d, check authorization failed: %s", id, err))
		return noop, nil
	}
	if !auth.Authorized {
		return noop, nil
	}

	start = time.Now()
	vrID, err := r.provider.CreateVerificationRequest(ctx, auth.UserID)
	r.m.RecordHistogramTime(metricProviderLatency, time.Since(start))
	if err != nil {
		r.log.Warn(fmt.Sprintf("reconciler transaction %d, create verification request failed: %s", id, err))
		return noop, nil
	}

	if err := checkMove(&trx, transaction.AwaitingVerification); err != nil {
		return noop, err
	}
	if err := r.repo.WriteAuthorization(ctx, id, auth.UserID, vrID); err != nil {
		return noop, errors.Join(ErrPersist, err)
	}
	release()

	r.m.IncrementCounter(metricAuthorized)
	r.log.Info(fmt.Sprintf("reconciler transaction %d, user %s authorized, verification request %s created", id, auth.UserID, vrID))
	r.messenger.SendText(trx.DeviceAddress, r.texts.ReceivedAuthToUserAccount()+"\n\n"+r.texts.WaitingWhileVerificationRequestFinished())

	return Result{Outcome: Authorized, TransactionID: id}, nil
}

// AdvanceVerification reads the status of the verification request of the transaction and
// applies the transition it implies. Provider failures never change the transaction.
func (r *Reconciler) AdvanceVerification(ctx context.Context, id int64) (Result, error) {
	noop := Result{Outcome: NoOp, TransactionID: id}

	release, err := r.lock(ctx, id)
	if err != nil {
		return noop, err
	}
	defer release()

	trx, err := r.repo.ReadTransaction(ctx, id)
	if err != nil {
		return noop, err
	}
	if trx.Status != transaction.AwaitingVerification {
		return noop, nil
	}

	start := time.Now()
	report, err := r.provider.VerificationRequestStatus(ctx, trx.VIUserID, trx.VIVerificationRequestID)
	r.m.RecordHistogramTime(metricProviderLatency, time.Since(start))
	if err != nil {
		return noop, err
	}

	if report.NotFound() {
		// The status payload of a 404 is not trusted, only the liveness check decides.
		if err := r.provider.Alive(ctx); err != nil {
			r.admin.Notify(
				fmt.Sprintf("verifyinvestor api unreachable: transaction %d", id),
				fmt.Sprintf("verification request %s of user %s not found and liveness check failed: %s",
					trx.VIVerificationRequestID, trx.VIUserID, err),
			)
			return noop, errors.Join(ErrProviderUnreachable, err)
		}
		return r.reset(ctx, &trx)
	}

	if report.Status == verifyinvestor.StatusNoVerificationRequest {
		return r.reset(ctx, &trx)
	}

	description, ok := verifyinvestor.Describe(report.Status)
	if !ok {
		r.admin.Notify(
			fmt.Sprintf("verifyinvestor api unknown status: transaction %d", id),
			fmt.Sprintf("verification request %s of user %s has status %q", trx.VIVerificationRequestID, trx.VIUserID, report.Status),
		)
		return noop, errors.Join(ErrUnknownStatus, errors.New(report.Status))
	}

	if verifyinvestor.IsNeutral(report.Status) {
		return noop, nil
	}

	next, outcome, metric := transaction.VerificationFailed, Failed, metricFailed
	if report.Status == verifyinvestor.StatusAccredited {
		next, outcome, metric = transaction.Accredited, Accredited, metricAccredited
	}

	if err := checkMove(&trx, next); err != nil {
		return noop, err
	}
	if err := r.repo.WriteVerificationResult(ctx, id, next, report.Status); err != nil {
		return noop, errors.Join(ErrPersist, err)
	}
	release()

	r.m.IncrementCounter(metric)
	r.log.Info(fmt.Sprintf("reconciler transaction %d, verification request %s finished with status %s", id, trx.VIVerificationRequestID, report.Status))

	text := r.texts.VerificationRequestCompletedWithStatus(description)
	if outcome == Failed {
		text += "\n\n" + r.texts.CurrentAttestationFailed()
	}
	r.messenger.SendText(trx.DeviceAddress, text)

	if outcome == Accredited {
		trx.Status = next
		trx.VIVerificationRequestStatus = report.Status
		if err := r.publisher.PublishAttestation(&trx); err != nil {
			r.log.Error(fmt.Sprintf("reconciler transaction %d, publish attestation failed: %s", id, err))
			r.admin.Notify(fmt.Sprintf("attestation request failed: transaction %d", id), err.Error())
		}
	}

	return Result{Outcome: outcome, TransactionID: id}, nil
}

func (r *Reconciler) reset(ctx context.Context, trx *transaction.Transaction) (Result, error) {
	if err := checkMove(trx, transaction.AwaitingAuthorization); err != nil {
		return Result{Outcome: NoOp, TransactionID: trx.ID}, err
	}
	if err := r.repo.ResetVerification(ctx, trx.ID); err != nil {
		return Result{Outcome: NoOp, TransactionID: trx.ID}, errors.Join(ErrPersist, err)
	}
	r.m.IncrementCounter(metricReset)
	r.log.Warn(fmt.Sprintf("reconciler transaction %d, verification request %s of user %s is gone, awaiting authorization again",
		trx.ID, trx.VIVerificationRequestID, trx.VIUserID))
	return Result{Outcome: Reset, TransactionID: trx.ID}, nil
}

// checkMove guards every write, the status read under the lock must allow the edge.
func checkMove(trx *transaction.Transaction, next transaction.VIStatus) error {
	if !trx.Status.CanMoveTo(next) {
		return fmt.Errorf("%w: transaction %d from %s to %s", ErrForbiddenTransition, trx.ID, trx.Status, next)
	}
	return nil
}

func (r *Reconciler) lock(ctx context.Context, id int64) (func(), error) {
	release, err := r.locker.Lock(ctx, transaction.LockKey(id))
	if err != nil {
		return nil, errors.Join(ErrLock, err)
	}
	return release, nil
}

// SweepAuthorizations advances every transaction awaiting authorization.
func (r *Reconciler) SweepAuthorizations(ctx context.Context) error {
	return r.sweep(ctx, "authorizations", transaction.AwaitingAuthorization, r.AdvanceAuthorization)
}

// SweepVerifications advances every transaction awaiting the verification result.
func (r *Reconciler) SweepVerifications(ctx context.Context) error {
	return r.sweep(ctx, "verifications", transaction.AwaitingVerification, r.AdvanceVerification)
}

// sweep advances every transaction independently, a failure of one never stops the others.
// Only the failure to list the transactions is returned.
func (r *Reconciler) sweep(
	ctx context.Context, name string, status transaction.VIStatus,
	step func(ctx context.Context, id int64) (Result, error),
) error {
	start := time.Now()
	defer func() {
		r.m.IncrementCounter(metricSweeps)
		r.m.RecordHistogramTime(metricSweepDuration, time.Since(start))
		r.m.SetToCurrentTimeGauge(metricLastSweep)
	}()

	trxs, err := r.repo.ReadTransactionsByStatus(ctx, status)
	if err != nil {
		r.log.Error(fmt.Sprintf("reconciler sweep %s, reading transactions failed: %s", name, err))
		return err
	}

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for _, trx := range trxs {
		id := trx.ID
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := step(ctx, id)
			if err != nil {
				r.log.Error(fmt.Sprintf("reconciler sweep %s, transaction %d: %s", name, id, err))
				return
			}
			if res.Transitioned() {
				r.log.Debug(fmt.Sprintf("reconciler sweep %s, transaction %d %s", name, id, res.Outcome))
			}
		}()
	}
	wg.Wait()

	return nil
}

// Run sweeps authorizations and then verifications right away and then on every tick.
// It blocks until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	r.sweepAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepAll(ctx)
		}
	}
}

func (r *Reconciler) sweepAll(ctx context.Context) {
	if err := r.SweepAuthorizations(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn(fmt.Sprintf("reconciler run, authorizations sweep: %s", err))
	}
	if err := r.SweepVerifications(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn(fmt.Sprintf("reconciler run, verifications sweep: %s", err))
	}
}
