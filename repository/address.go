package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bartossh/Accreditor/transaction"
)

// WriteReceivingAddress stores the receiving address bound to the device and user address.
func (db *DataBase) WriteReceivingAddress(ctx context.Context, ra *transaction.ReceivingAddress) error {
	_, err := db.inner.ExecContext(ctx,
		`INSERT INTO receiving_addresses (receiving_address, device_address, user_address, price)
			VALUES ($1, $2, $3, $4)`,
		ra.ReceivingAddress, ra.DeviceAddress, ra.UserAddress, ra.Price)
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadReceivingAddress reads the receiving address entity.
func (db *DataBase) ReadReceivingAddress(ctx context.Context, receivingAddress string) (transaction.ReceivingAddress, error) {
	return db.readReceivingAddress(ctx,
		`SELECT receiving_address, device_address, user_address, price, creation_date
			FROM receiving_addresses WHERE receiving_address = $1`, receivingAddress)
}

// FindReceivingAddress finds the receiving address already issued for the device and user address.
func (db *DataBase) FindReceivingAddress(ctx context.Context, deviceAddress, userAddress string) (transaction.ReceivingAddress, error) {
	return db.readReceivingAddress(ctx,
		`SELECT receiving_address, device_address, user_address, price, creation_date
			FROM receiving_addresses WHERE device_address = $1 AND user_address = $2`, deviceAddress, userAddress)
}

func (db *DataBase) readReceivingAddress(ctx context.Context, query string, args ...any) (transaction.ReceivingAddress, error) {
	var ra transaction.ReceivingAddress
	err := db.inner.QueryRowContext(ctx, query, args...).
		Scan(&ra.ReceivingAddress, &ra.DeviceAddress, &ra.UserAddress, &ra.Price, &ra.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return transaction.ReceivingAddress{}, errors.Join(ErrNotFound, fmt.Errorf("receiving address %v", args))
	case err != nil:
		return transaction.ReceivingAddress{}, errors.Join(ErrSelectFailed, err)
	}
	return ra, nil
}
