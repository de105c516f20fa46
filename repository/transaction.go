package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/bartossh/Accreditor/transaction"
)

const uniqueViolation = "23505"

const selectTransaction = `SELECT
		transaction_id, receiving_address, device_address, user_address, payment_unit, amount,
		vi_status, vi_user_id, vi_vr_id, vi_vr_status, transactions.creation_date
	FROM transactions JOIN receiving_addresses USING (receiving_address)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (transaction.Transaction, error) {
	var trx transaction.Transaction
	var userID, vrID, vrStatus sql.NullString
	var status int
	err := row.Scan(
		&trx.ID, &trx.ReceivingAddress, &trx.DeviceAddress, &trx.UserAddress, &trx.PaymentUnit, &trx.Amount,
		&status, &userID, &vrID, &vrStatus, &trx.CreatedAt)
	if err != nil {
		return transaction.Transaction{}, err
	}
	trx.Status = transaction.VIStatus(status)
	trx.VIUserID = userID.String
	trx.VIVerificationRequestID = vrID.String
	trx.VIVerificationRequestStatus = vrStatus.String
	return trx, nil
}

// ReadTransaction reads the transaction joined with its receiving address.
func (db *DataBase) ReadTransaction(ctx context.Context, id int64) (transaction.Transaction, error) {
	row := db.inner.QueryRowContext(ctx, selectTransaction+" WHERE transaction_id = $1", id)
	trx, err := scanTransaction(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return transaction.Transaction{}, errors.Join(ErrNotFound, fmt.Errorf("transaction %d", id))
	case err != nil:
		return transaction.Transaction{}, errors.Join(ErrSelectFailed, err)
	}
	return trx, nil
}

// ReadTransactionsByStatus reads all the transactions with given verification status.
func (db *DataBase) ReadTransactionsByStatus(ctx context.Context, status transaction.VIStatus) ([]transaction.Transaction, error) {
	rows, err := db.inner.QueryContext(ctx, selectTransaction+" WHERE vi_status = $1 ORDER BY transaction_id", int(status))
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	var trxs []transaction.Transaction
	for rows.Next() {
		trx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Join(ErrScanFailed, err)
		}
		trxs = append(trxs, trx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return trxs, nil
}

// ReadLatestTransactionByDevice reads the most recent transaction paid by the device.
func (db *DataBase) ReadLatestTransactionByDevice(ctx context.Context, deviceAddress string) (transaction.Transaction, error) {
	row := db.inner.QueryRowContext(ctx,
		selectTransaction+" WHERE device_address = $1 ORDER BY transaction_id DESC LIMIT 1", deviceAddress)
	trx, err := scanTransaction(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return transaction.Transaction{}, errors.Join(ErrNotFound, fmt.Errorf("no transaction of device %s", deviceAddress))
	case err != nil:
		return transaction.Transaction{}, errors.Join(ErrSelectFailed, err)
	}
	return trx, nil
}

// WriteTransaction writes the confirmed payment as a new transaction awaiting authorization.
func (db *DataBase) WriteTransaction(ctx context.Context, p *transaction.Payment) (int64, error) {
	var id int64
	err := db.inner.QueryRowContext(ctx,
		`INSERT INTO transactions (receiving_address, payment_unit, amount, vi_status)
			VALUES ($1, $2, $3, $4) RETURNING transaction_id`,
		p.ReceivingAddress, p.Unit, p.Amount, int(transaction.AwaitingAuthorization)).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, errors.Join(ErrDuplicatePayment, err)
		}
		return 0, errors.Join(ErrInsertFailed, err)
	}
	return id, nil
}

// WriteAuthorization moves the transaction from awaiting authorization to awaiting verification
// storing the VerifyInvestor user and verification request ids.
func (db *DataBase) WriteAuthorization(ctx context.Context, id int64, userID, vrID string) error {
	return db.update(ctx,
		`UPDATE transactions SET vi_status = $1, vi_user_id = $2, vi_vr_id = $3
			WHERE transaction_id = $4 AND vi_status = $5`,
		int(transaction.AwaitingVerification), userID, vrID, id, int(transaction.AwaitingAuthorization))
}

// WriteVerificationResult finishes the verification of the transaction with the terminal status.
func (db *DataBase) WriteVerificationResult(ctx context.Context, id int64, status transaction.VIStatus, vrStatus string) error {
	if !status.IsTerminal() {
		return errors.Join(ErrUpdateFailed, fmt.Errorf("status %s is not terminal", status))
	}
	return db.update(ctx,
		`UPDATE transactions SET vi_status = $1, vi_vr_status = $2
			WHERE transaction_id = $3 AND vi_status = $4`,
		int(status), vrStatus, id, int(transaction.AwaitingVerification))
}

// ResetVerification moves the transaction back to awaiting authorization, clearing verification ids.
func (db *DataBase) ResetVerification(ctx context.Context, id int64) error {
	return db.update(ctx,
		`UPDATE transactions SET vi_status = $1, vi_user_id = NULL, vi_vr_id = NULL, vi_vr_status = NULL
			WHERE transaction_id = $2 AND vi_status = $3`,
		int(transaction.AwaitingAuthorization), id, int(transaction.AwaitingVerification))
}

func (db *DataBase) update(ctx context.Context, query string, args ...any) error {
	res, err := db.inner.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	if n != 1 {
		return ErrStatusConflict
	}
	return nil
}
