package repository

import (
	"context"
	"errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS receiving_addresses (
	receiving_address TEXT PRIMARY KEY,
	device_address    TEXT NOT NULL,
	user_address      TEXT NOT NULL,
	price             BIGINT NOT NULL DEFAULT 0,
	creation_date     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (device_address, user_address)
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id    BIGSERIAL PRIMARY KEY,
	receiving_address TEXT NOT NULL REFERENCES receiving_addresses (receiving_address),
	payment_unit      TEXT NOT NULL UNIQUE,
	amount            BIGINT NOT NULL,
	vi_status         SMALLINT NOT NULL DEFAULT 0 CHECK (vi_status BETWEEN 0 AND 3),
	vi_user_id        TEXT,
	vi_vr_id          TEXT,
	vi_vr_status      TEXT,
	creation_date     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_vi_status_idx ON transactions (vi_status);
`

// RunMigration creates the tables if they do not exist yet.
func (db *DataBase) RunMigration(ctx context.Context) error {
	if _, err := db.inner.ExecContext(ctx, schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}
