package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Kind enumerates the transaction kinds the chain understands.
type Kind string

const (
	// KindMint credits newly issued HP to the target address.
	KindMint Kind = "mint"
	// KindBurn removes HP from the source address and from supply.
	KindBurn Kind = "burn"
	// KindTransfer moves HP between two addresses.
	KindTransfer Kind = "transfer"
)

// Valid reports whether the kind is one of the known constants.
func (k Kind) Valid() bool {
	switch k {
	case KindMint, KindBurn, KindTransfer:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a chain transaction. Transitions are
// monotonic: pending moves to exactly one of confirmed or failed and stays
// there.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Well-known spending categories recorded on chain transactions.
const (
	CategoryGenesis    = "genesis"
	CategoryConversion = "conversion"
	CategoryCardTopup  = "card_topup"
	CategoryTransfer   = "transfer"
)

// Transaction is a journal row. Amounts are planck. From is empty for mint,
// To is empty for burn. BlockNumber stays zero until confirmation.
type Transaction struct {
	Hash          string
	Kind          Kind
	From          string
	To            string
	Amount        int64
	Fee           int64
	Category      string
	Description   string
	Status        Status
	FailureReason string
	BlockNumber   int64
	SubmittedAt   time.Time
	SettledAt     *time.Time
	Metadata      map[string]string
}

// Involves reports whether the address participates in the transaction.
func (t *Transaction) Involves(address string) bool {
	return address != "" && (t.From == address || t.To == address)
}

// Copy returns an independent copy so callers can hold results across
// concurrent journal updates.
func (t *Transaction) Copy() *Transaction {
	dup := *t
	if t.SettledAt != nil {
		settled := *t.SettledAt
		dup.SettledAt = &settled
	}
	if t.Metadata != nil {
		dup.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

const (
	addressPrefix = "hp1"
	addressHexLen = 40
	hashPrefix    = "0x"
	hashHexLen    = 64
)

// NewAddress generates a fresh chain address: "hp1" + 40 lowercase hex.
func NewAddress() string {
	buf := make([]byte, addressHexLen/2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ledger: entropy unavailable: %v", err))
	}
	return addressPrefix + hex.EncodeToString(buf)
}

// ValidAddress reports whether the string is a well-formed chain address.
func ValidAddress(address string) bool {
	if len(address) != len(addressPrefix)+addressHexLen {
		return false
	}
	if !strings.HasPrefix(address, addressPrefix) {
		return false
	}
	_, err := hex.DecodeString(address[len(addressPrefix):])
	return err == nil
}

// NewHash derives the content hash identifying a transaction: BLAKE2b-256
// over the submission content plus a sequence number that keeps otherwise
// identical submissions distinct.
func NewHash(kind Kind, from, to string, amount int64, submittedAt time.Time, seq uint64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d|%d", kind, from, to, amount, submittedAt.UnixNano(), seq)))
	return hashPrefix + hex.EncodeToString(sum[:])
}

// ValidHash reports whether the string looks like a transaction hash.
func ValidHash(hash string) bool {
	if len(hash) != len(hashPrefix)+hashHexLen {
		return false
	}
	if !strings.HasPrefix(hash, hashPrefix) {
		return false
	}
	_, err := hex.DecodeString(hash[len(hashPrefix):])
	return err == nil
}
