package verifyinvestor

import (
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const identifierPrefix = "ua"

// Identifier derives the VerifyInvestor user identifier from the device and the attested user address.
// The device address qualifies the user address, so users sharing the address on many devices are
// verified separately. The result is stable and URL safe.
func Identifier(deviceAddress, userAddress string) string {
	sum := blake2b.Sum256([]byte(deviceAddress + ":" + userAddress))
	return identifierPrefix + base58.Encode(sum[:])
}
