package payrail

import (
	"errors"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ErrUnconfirmed is returned with a signature when a transfer was submitted but its
// confirmation could not be observed in time
var ErrUnconfirmed = errors.New("transfer submitted but not confirmed")

// ErrRejected means a transfer will never land and its signature can be discarded
var ErrRejected = errors.New("transfer rejected")

// Transfer is a signed payout that has not been submitted yet.
// Its signature is final before Send, so it can be stored ahead of the network call.
type Transfer struct {
	Signature string
	WalletID  string
	Lamports  uint64

	tx *solana.Transaction
}

// Status is the on-chain state of a submitted transfer
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusNotFound:
		return "not_found"
	}
	return "pending"
}

var lamportsPerSOL = decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL))

// QuoteLamports converts usd at rate USD/SOL into lamports, rounding down
func QuoteLamports(usd, rate decimal.Decimal) uint64 {
	if !usd.IsPositive() || !rate.IsPositive() {
		return 0
	}
	return usd.Div(rate).Mul(lamportsPerSOL).Floor().BigInt().Uint64()
}

// LamportsToSOL converts lamports into SOL
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

// ValidWallet reports whether addr is a base58 Solana public key
func ValidWallet(addr string) bool {
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}
