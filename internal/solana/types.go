package solana

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Program IDs used by token account queries.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// TokenBalance is one SPL token holding of a wallet.
type TokenBalance struct {
	Mint      Pubkey `json:"mint"`
	AmountRaw uint64 `json:"amount_raw"`
	Decimals  uint8  `json:"decimals"`
}

// WalletBalance represents the balance of a wallet.
type WalletBalance struct {
	SOL    decimal.Decimal         `json:"sol"`
	Tokens map[Pubkey]TokenBalance `json:"tokens"` // mint -> holding
}

// HasToken reports whether the wallet holds a non-zero amount of mint.
func (b *WalletBalance) HasToken(mint Pubkey) bool {
	if b == nil {
		return false
	}
	t, ok := b.Tokens[mint]
	return ok && t.AmountRaw > 0
}

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFinalized TxStatus = "finalized"
	TxFailed    TxStatus = "failed"
)

// Landed reports whether the transaction reached confirmed or finalized.
func (s TxStatus) Landed() bool {
	return s == TxConfirmed || s == TxFinalized
}

// WalletActivity is emitted when a transaction mentioning a watched wallet lands.
type WalletActivity struct {
	Wallet     Pubkey    `json:"wallet"`
	Signature  Signature `json:"signature"`
	Slot       uint64    `json:"slot"`
	Failed     bool      `json:"failed"`
	DetectedAt time.Time `json:"detected_at"`
}

// LamportsToSOL converts lamports into a SOL decimal.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

// SOLToLamports converts a SOL amount into lamports, truncating dust.
func SOLToLamports(sol decimal.Decimal) uint64 {
	l := sol.Mul(decimal.NewFromInt(LamportsPerSOL)).Truncate(0)
	if l.IsNegative() {
		return 0
	}
	return uint64(l.IntPart())
}
