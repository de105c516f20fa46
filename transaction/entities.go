package transaction

import "time"

// ReceivingAddress binds the address the bot receives the payment on with the paired device
// and the user address that is going to be attested.
type ReceivingAddress struct {
	CreatedAt        time.Time `json:"created_at"        db:"creation_date"`
	ReceivingAddress string    `json:"receiving_address" db:"receiving_address"`
	DeviceAddress    string    `json:"device_address"    db:"device_address"`
	UserAddress      string    `json:"user_address"      db:"user_address"`
	Price            int64     `json:"price"             db:"price"`
}

// Payment is an incoming payment to the receiving address, reported by the wallet.
type Payment struct {
	ReceivingAddress string `json:"receiving_address"`
	AuthorAddress    string `json:"author_address"`
	Unit             string `json:"unit"`
	Amount           int64  `json:"amount"`
	IsConfirmed      bool   `json:"is_confirmed"`
	IsSingleAuthor   bool   `json:"is_single_author"`
}
