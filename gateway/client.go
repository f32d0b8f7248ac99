// Package gateway drives on-chain order execution through a
// transaction-relay gateway: fee estimation, bounded retry with fee
// escalation, and confirmation monitoring.
package gateway

import (
	"context"
	"time"
)

// TxStatus is the gateway's tri-state transaction status: 0 pending,
// 1 confirmed, negative failed.
type TxStatus int

const (
	TxStatusPending   TxStatus = 0
	TxStatusConfirmed TxStatus = 1
	TxStatusFailed    TxStatus = -1
)

// Terminal reports whether no further polling can change the status.
func (s TxStatus) Terminal() bool {
	return s != TxStatusPending
}

// FeeEstimate is the gateway's priority-fee quote for a chain/network.
type FeeEstimate struct {
	FeePerComputeUnit int64
	Denomination      string
	Timestamp         time.Time
}

// SubmitRequest describes one transaction submission through a connector
// method (e.g. "execute-swap", "open-position").
type SubmitRequest struct {
	Chain     string
	Network   string
	Connector string
	Method    string
	Params    map[string]interface{}
}

// SubmitResult is the gateway's immediate response to a submission. The
// transaction hash may be empty when submission failed before broadcast.
// Payload carries the raw response for downstream extraction.
type SubmitResult struct {
	TxHash       string
	Status       TxStatus
	ErrorMessage string
	Payload      map[string]interface{}
}

// PollResult is the gateway's answer to a status poll.
type PollResult struct {
	Status        TxStatus
	Confirmations int64
	ErrorMessage  string
	Payload       map[string]interface{}
}

// Client is the transaction-relay gateway boundary. Implementations wrap
// the relay's REST API; tests substitute mocks.
type Client interface {
	EstimateFee(ctx context.Context, chain, network string) (FeeEstimate, error)
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	PollStatus(ctx context.Context, chain, network, txHash string) (PollResult, error)
}
