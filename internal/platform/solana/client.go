package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	// confirmPollInterval spaces signature status polls.
	confirmPollInterval = 2 * time.Second

	// defaultConfirmTimeout bounds how long a transfer is awaited before
	// it is reported unconfirmed.
	defaultConfirmTimeout = 45 * time.Second
)

// Client wraps the Solana JSON-RPC API with the calls the wallet manager
// and relayer use: balances, blockhashes, and signed lamport transfers.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

// NewClient creates a client for the given RPC endpoint. An empty
// commitment defaults to confirmed.
func NewClient(endpoint string, commitment rpc.CommitmentType, logger *slog.Logger) *Client {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpc.New(endpoint),
		commitment: commitment,
		logger:     logger.With(slog.String("component", "solana_rpc")),
	}
}

// Balance returns the lamport balance of account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("solana: get balance %s: %w", account, err)
	}
	return out.Value, nil
}

// LatestBlockhash fetches a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("solana: latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// TransferLamports builds, signs, and submits a system transfer from the
// key holder to the recipient. It returns as soon as the transaction is
// accepted by the RPC node; use WaitForConfirmation to await inclusion.
func (c *Client) TransferLamports(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	blockhash, err := c.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	payer := from.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, payer, to).Build(),
		},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("solana: build transfer: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &from
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("solana: sign transfer: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("solana: send transfer: %w", err)
	}

	c.logger.Debug("transfer submitted",
		slog.String("from", payer.String()),
		slog.String("to", to.String()),
		slog.Uint64("lamports", lamports),
		slog.String("signature", sig.String()),
	)
	return sig, nil
}

// WaitForConfirmation polls the signature status until the transaction
// reaches the client's commitment or the timeout lapses. A zero timeout
// uses the default.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("solana: transaction %s failed on chain (%v): %w", sig, status.Err, domain.ErrNotConfirmed)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusFinalized:
				return nil
			case rpc.ConfirmationStatusConfirmed:
				if c.commitment != rpc.CommitmentFinalized {
					return nil
				}
			case rpc.ConfirmationStatusProcessed:
				if c.commitment == rpc.CommitmentProcessed {
					return nil
				}
			}
		}
		if err != nil {
			c.logger.Debug("signature status poll failed",
				slog.String("signature", sig.String()),
				slog.String("error", err.Error()),
			)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("solana: transaction %s not confirmed within %s: %w", sig, timeout, domain.ErrNotConfirmed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
