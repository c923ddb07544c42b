package types

import (
	"context"
	"time"
)

// TxHandle tracks a submitted transaction. Done yields exactly one value:
// nil once the transaction is confirmed successful, an error otherwise.
type TxHandle struct {
	Hash string
	done <-chan error
}

// NewTxHandle wraps a submitted transaction hash and its outcome channel.
func NewTxHandle(hash string, done <-chan error) *TxHandle {
	return &TxHandle{Hash: hash, done: done}
}

// Wait blocks until the transaction outcome is known or ctx ends.
func (h *TxHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receipt records a completed exchange submission.
type Receipt struct {
	ID            string    `json:"id"`
	TxHash        string    `json:"tx_hash"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	FromToken     TokenRef  `json:"from_token"`
	ToToken       TokenRef  `json:"to_token"`
	FromAmount    string    `json:"from_amount"`
	ToAmount      string    `json:"to_amount"`
	SourceChainID int64     `json:"source_chain_id"`
	DestChainID   int64     `json:"dest_chain_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	// Tx is the transaction that was signed; a bridge deposit address is
	// recovered from it.
	Tx TxPayload `json:"tx"`
}

// Bridging reports whether the exchange crosses chains, in which case the
// destination leg is still settling when the receipt is issued.
func (r Receipt) Bridging() bool {
	return r.SourceChainID != r.DestChainID
}
