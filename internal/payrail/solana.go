package payrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
)

// Solana pays claims with system transfers from a treasury keypair
type Solana struct {
	rpc          *rpc.Client
	treasury     solana.PrivateKey
	confirmWait  time.Duration
	pollInterval time.Duration
	log          *slog.Logger
}

// NewSolana creates a Solana rail; treasuryKey is the base58 secret key of the payer
func NewSolana(endpoint, treasuryKey string, confirmWait time.Duration, log *slog.Logger) (*Solana, error) {
	key, err := solana.PrivateKeyFromBase58(treasuryKey)
	if err != nil {
		return nil, fmt.Errorf("parse treasury key: %w", err)
	}

	return &Solana{
		rpc:          rpc.New(endpoint),
		treasury:     key,
		confirmWait:  confirmWait,
		pollInterval: 2 * time.Second,
		log:          log,
	}, nil
}

// Treasury returns the payer address
func (s *Solana) Treasury() string {
	return s.treasury.PublicKey().String()
}

func (s *Solana) QuoteLamports(usd, rate decimal.Decimal) uint64 {
	return QuoteLamports(usd, rate)
}

// Prepare builds and signs a transfer of lamports to walletID without sending it
func (s *Solana) Prepare(ctx context.Context, walletID string, lamports uint64) (Transfer, error) {
	to, err := solana.PublicKeyFromBase58(walletID)
	if err != nil {
		return Transfer{}, fmt.Errorf("parse recipient: %w", err)
	}
	if lamports == 0 {
		return Transfer{}, fmt.Errorf("zero lamports transfer")
	}

	recent, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Transfer{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	payer := s.treasury.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer, to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return Transfer{}, fmt.Errorf("build transaction: %w", err)
	}

	sigs, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payer.Equals(key) {
			return &s.treasury
		}
		return nil
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("sign transaction: %w", err)
	}
	if len(sigs) == 0 {
		return Transfer{}, fmt.Errorf("sign transaction: no signature")
	}

	return Transfer{
		Signature: sigs[0].String(),
		WalletID:  walletID,
		Lamports:  lamports,
		tx:        tx,
	}, nil
}

// Send submits a prepared transfer and waits for confirmation.
// ErrRejected means the node refused it or it failed on chain; ErrUnconfirmed means it may still land.
func (s *Solana) Send(ctx context.Context, t Transfer) error {
	if t.tx == nil {
		return fmt.Errorf("%w: transfer %s was not prepared by this rail", ErrRejected, t.Signature)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, t.tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%w: %s", ErrRejected, rpcErr.Message)
		}
		return fmt.Errorf("%w: send transaction: %v", ErrUnconfirmed, err)
	}

	s.log.Info("payout submitted",
		"wallet", t.WalletID,
		"lamports", t.Lamports,
		"signature", sig.String(),
	)

	status, err := s.waitConfirmed(ctx, sig)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnconfirmed, err)
	case status == StatusConfirmed:
		return nil
	case status == StatusFailed:
		return fmt.Errorf("%w: transaction %s failed on chain", ErrRejected, sig)
	}
	return ErrUnconfirmed
}

// Verify looks up the status of a previously submitted transfer
func (s *Solana) Verify(ctx context.Context, signature string) (Status, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return StatusFailed, fmt.Errorf("parse signature: %w", err)
	}
	return s.status(ctx, sig)
}

func (s *Solana) waitConfirmed(ctx context.Context, sig solana.Signature) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmWait)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return StatusPending, ctx.Err()
		case <-ticker.C:
			status, err := s.status(ctx, sig)
			if err != nil {
				s.log.Warn("signature status", "signature", sig.String(), "error", err)
				continue
			}
			if status == StatusConfirmed || status == StatusFailed {
				return status, nil
			}
		}
	}
}

func (s *Solana) status(ctx context.Context, sig solana.Signature) (Status, error) {
	out, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return StatusPending, fmt.Errorf("get signature statuses: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatusNotFound, nil
	}

	st := out.Value[0]
	if st.Err != nil {
		return StatusFailed, nil
	}

	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return StatusConfirmed, nil
	}
	return StatusPending, nil
}
