package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventRecord is one decoded chain event. Events form an append-only ledger:
// the id is assigned upstream from chain order and is globally unique, so a
// duplicate id always indicates a producer bug.
type EventRecord struct {
	ID          int64  `json:"id"`
	BlockID     int64  `json:"block_id"`
	ExtrinsicID int64  `json:"extrinsic_id"`
	Index       int32  `json:"index"`
	Section     string `json:"section"`
	Method      string `json:"method"`
	Data        string `json:"data"`
}

// AccountRecord is the latest observed state of an account. Every
// re-observation overwrites all mutable fields; BlockID records the block
// that produced the observation but does not gate the overwrite.
type AccountRecord struct {
	Address          string          `json:"address"`
	EVMAddress       string          `json:"evm_address"`
	BlockID          int64           `json:"block_id"`
	Active           bool            `json:"active"`
	FreeBalance      decimal.Decimal `json:"free_balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance"`
	VotingBalance    decimal.Decimal `json:"voting_balance"`
	VestedBalance    decimal.Decimal `json:"vested_balance"`
	Identity         string          `json:"identity"`
	Nonce            int64           `json:"nonce"`
	EVMNonce         int64           `json:"evm_nonce"`
}

// PoolEventType enumerates liquidity event variants.
type PoolEventType string

const (
	PoolEventMint PoolEventType = "Mint"
	PoolEventBurn PoolEventType = "Burn"
	PoolEventSync PoolEventType = "Sync"
)

// PoolEventRecord is one liquidity event for a pool. A pool's current
// reserves are always derived at read time from the Sync event with the
// maximum timestamp; no reserve state is materialised at ingestion time.
type PoolEventRecord struct {
	PoolID    int64           `json:"pool_id"`
	Type      PoolEventType   `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Amount1   decimal.Decimal `json:"amount_1"`
	Amount2   decimal.Decimal `json:"amount_2"`
	Reserved1 decimal.Decimal `json:"reserved_1"`
	Reserved2 decimal.Decimal `json:"reserved_2"`

	// TokenPrice is attached by enrichment before persistence and stays
	// null when the price provider was unavailable.
	TokenPrice decimal.NullDecimal `json:"-"`
}

// NormalizeEVMAddress rewrites a hex EVM address into its EIP-55 checksum
// form. Inputs that are not valid hex addresses (including the empty string
// for accounts without a claimed EVM address) pass through unchanged.
func NormalizeEVMAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
