// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — wire primitives
// (Hash, PublicKey, KeyPair, Signature), exact decimal Price/Quantity,
// reference data, and the mutable runtime state (Book, Wallet, Order,
// RecentBlockhash). It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Wire primitives
// ————————————————————————————————————————————————————————————————————————

// HashSize is the byte width of every Hash/PublicKey/account key in this
// system.
const HashSize = 32

// SignatureSize is the byte width of an Ed25519 signature.
const SignatureSize = 64

// Hash is a 32-byte opaque value with base58/base64/byte-array encodings.
// PublicKey, program ids, mint addresses, and market addresses are all
// represented as Hash.
type Hash [HashSize]byte

// ZeroHash is the all-zero sentinel value (used for e.g. the sysvar program
// well-known key and "no taker" markers).
var ZeroHash = Hash{}

// NewHashFromBase58 decodes a base58-encoded 32-byte value.
func NewHashFromBase58(s string) (Hash, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode base58 hash: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// NewHashFromBytes copies b into a Hash; b must be exactly HashSize long.
func NewHashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// String returns the base58 text form.
func (h Hash) String() string { return base58.Encode(h[:]) }

// Bytes returns the raw 32 bytes as a slice. The receiver is a copy of the
// Hash, so writing through the result does not change the caller's value.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool { return h == ZeroHash }

// MarshalJSON renders the hash as its base58 string form.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses a base58 string form into h.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("hash: expected JSON string")
	}
	decoded, err := NewHashFromBase58(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// PublicKey is a Hash used specifically to identify an on-chain account or
// signer. It is distinguished from a bare Hash only by convention.
type PublicKey = Hash

// programDerivedAddressSuffix is appended to the seed buffer before hashing,
// per the reference runtime's PDA derivation scheme.
const programDerivedAddressSuffix = "ProgramDerivedAddress"

// DeriveProgramAddress computes a program-derived address: a public key with
// no corresponding private key, deterministically derived from a base seed,
// a nonce, and the owning program's address.
//
// digest = SHA256(base || nonce_le_u64 || program || "ProgramDerivedAddress")
//
// The full 32-byte SHA-256 digest is used verbatim; there is no truncation
// step beyond the hash's natural width.
func DeriveProgramAddress(base PublicKey, nonce uint64, program PublicKey) PublicKey {
	buf := make([]byte, 0, HashSize+8+HashSize+len(programDerivedAddressSuffix))
	buf = append(buf, base[:]...)
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
	buf = append(buf, nonceBytes[:]...)
	buf = append(buf, program[:]...)
	buf = append(buf, []byte(programDerivedAddressSuffix)...)
	digest := sha256.Sum256(buf)
	return Hash(digest)
}

// KeyPair is an Ed25519 key pair. Ownership never crosses the process
// boundary past the key store; only the Public half is meant to be handed
// to other components.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  PublicKey
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	pk, err := NewHashFromBytes(pub)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pk}, nil
}

// KeyPairFromBytes reconstructs a key pair from the persisted 64-byte
// [priv(32)..., pub(32)...] array form (§6.7).
func KeyPairFromBytes(raw []byte) (KeyPair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return KeyPair{}, fmt.Errorf("key pair must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(append([]byte(nil), raw...))
	pub, err := NewHashFromBytes(raw[32:])
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// Bytes renders the key pair in the persisted [priv..., pub...] form.
func (kp KeyPair) Bytes() []byte {
	out := make([]byte, 0, ed25519.PrivateKeySize)
	out = append(out, kp.Private...)
	return out
}

// Sign produces an Ed25519 signature over message.
func (kp KeyPair) Sign(message []byte) Signature {
	raw := ed25519.Sign(kp.Private, message)
	var sig Signature
	copy(sig[:], raw)
	return sig
}

// Signature is a 64-byte Ed25519 (or HMAC-SHA256, first-32-bytes-hex-encoded
// at the wire layer) signature.
type Signature [SignatureSize]byte

// Verify reports whether sig is a valid Ed25519 signature of message under
// public key pk.
func (sig Signature) Verify(pk PublicKey, message []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig[:])
}

// String returns the base58 text form.
func (sig Signature) String() string { return base58.Encode(sig[:]) }

// ————————————————————————————————————————————————————————————————————————
// Exact decimal primitives
// ————————————————————————————————————————————————————————————————————————

// Price and Quantity are decimal fixed-point values with effectively
// unbounded significant digits, used for every price/size/fee computation so
// that arithmetic never loses precision to floating point.
type Price = decimal.Decimal
type Quantity = decimal.Decimal

// ZeroPrice and ZeroQuantity are convenience zero values.
var (
	ZeroPrice    = decimal.Zero
	ZeroQuantity = decimal.Zero
)

// ————————————————————————————————————————————————————————————————————————
// Enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or book side.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Venue identifies which leg of the cross-venue engine a piece of state
// belongs to.
type Venue string

const (
	VenueCEX Venue = "cex"
	VenueDEX Venue = "dex"
)

// OrderState is the lifecycle state of an Order. Transitions are monotonic:
// NEW -> OPEN -> CLOSED.
type OrderState string

const (
	OrderStateNew    OrderState = "NEW"
	OrderStateOpen   OrderState = "OPEN"
	OrderStateClosed OrderState = "CLOSED"
)

// ————————————————————————————————————————————————————————————————————————
// Reference data
// ————————————————————————————————————————————————————————————————————————

// Currency is one tradeable asset on a venue: a CEX ticker symbol or a DEX
// SPL mint address, loaded once at startup and never mutated.
type Currency struct {
	Name          string   // human-readable symbol, e.g. "SOL", "USDC"
	MintOrSymbol  string   // DEX: base58 mint address; CEX: exchange ticker
	Decimals      int      // native decimal precision
	VenueIndex    int      // index into the venue's currency table
}

// TradingPair is one market on a venue, cross-indexed to its base/quote
// currencies by the reference-data loader.
type TradingPair struct {
	BaseCurrencyIndex  int
	QuoteCurrencyIndex int
	PriceIncrement     Price
	QuantityIncrement  Quantity

	// CEX-specific metadata.
	CEXMarketName string

	// DEX-specific metadata.
	DEXMarketAddress PublicKey
	BaseLotSize      int64
	QuoteLotSize     int64
	FeeRateBps       int64
	RequestQueue     PublicKey
	EventQueue       PublicKey
	Bids             PublicKey
	Asks             PublicKey
	BaseVault        PublicKey
	QuoteVault       PublicKey

	TakerFeeRate Price // as a decimal fraction, e.g. 0.0003
}

// TokenInfo is a DEX root-bank/node-bank pair used by the margin/health
// calculation and the order client's account graph for a single currency.
type TokenInfo struct {
	CurrencyIndex int
	RootBank      PublicKey
	NodeBank      PublicKey
	Vault         PublicKey // the node bank's underlying token vault
	DepositIndex  Price
	BorrowIndex   Price
}

// ReferenceData is the immutable, cross-indexed venue catalog produced by a
// reference-data loader (§4.6).
type ReferenceData struct {
	Currencies []Currency
	Pairs      []TradingPair

	// DEX-only.
	MarginAccount   PublicKey
	MarginGroup     PublicKey
	Cache           PublicKey // margin group's price/index cache account
	DexProgramID    PublicKey // the on-chain margin program, not the per-market Serum program
	SignerKey       PublicKey // margin group's PDA signer
	OpenOrders      []PublicKey // indexed by pair
	TokenInfos      []TokenInfo // indexed by currency
}

// CurrencyIndex returns the index of the currency with the given name, or
// -1 if not found.
func (r ReferenceData) CurrencyIndex(name string) int {
	for i, c := range r.Currencies {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ————————————————————————————————————————————————————————————————————————
// Mutable runtime state
// ————————————————————————————————————————————————————————————————————————

// Level is one price/quantity point in a Book.
type Level struct {
	Price    Price
	Quantity Quantity
}

// Book is the L2 reconstruction of one (venue, pair)'s order book.
//
// Invariant: Bids is sorted strictly descending by price, Asks strictly
// ascending; no two levels in the same side share a price.
type Book struct {
	PairIndex        int
	Bids             []Level
	Asks             []Level
	ExchangeTime     time.Time
	ReceiveTime      time.Time
}

// BestBid returns the highest bid level, or false if the side is empty.
func (b *Book) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the side is empty.
func (b *Book) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Side returns the requested side's levels.
func (b *Book) Side(side Side) []Level {
	if side == SideBid {
		return b.Bids
	}
	return b.Asks
}

// SetSide replaces the requested side's levels.
func (b *Book) SetSide(side Side, levels []Level) {
	if side == SideBid {
		b.Bids = levels
	} else {
		b.Asks = levels
	}
}

// Clone returns a deep copy of the book, safe to hand across a goroutine
// boundary. Bids/Asks are sometimes mutated in place (level insert/update/
// delete against the existing backing array) rather than replaced wholesale,
// so a shallow struct copy would still alias the live slices.
func (b *Book) Clone() *Book {
	bids := make([]Level, len(b.Bids))
	copy(bids, b.Bids)
	asks := make([]Level, len(b.Asks))
	copy(asks, b.Asks)
	return &Book{
		PairIndex:    b.PairIndex,
		Bids:         bids,
		Asks:         asks,
		ExchangeTime: b.ExchangeTime,
		ReceiveTime:  b.ReceiveTime,
	}
}

// IsStale reports whether the book has not been updated within maxAge.
func (b *Book) IsStale(now time.Time, maxAge time.Duration) bool {
	if b.ReceiveTime.IsZero() {
		return true
	}
	return now.Sub(b.ReceiveTime) > maxAge
}

// Wallet is the per-venue authoritative position and margin view.
type Wallet struct {
	Venue            Venue
	Positions        []Quantity // indexed by currency
	MarginAvailable  []Price    // indexed by pair, non-negative quote-unit cap
}

// NewWallet allocates a zeroed wallet for the given currency/pair counts.
func NewWallet(venue Venue, currencyCount, pairCount int) *Wallet {
	positions := make([]Quantity, currencyCount)
	margin := make([]Price, pairCount)
	for i := range positions {
		positions[i] = ZeroQuantity
	}
	for i := range margin {
		margin[i] = ZeroPrice
	}
	return &Wallet{Venue: venue, Positions: positions, MarginAvailable: margin}
}

// Clone returns a deep copy safe to hand across a goroutine boundary. The
// producer keeps mutating Positions/MarginAvailable in place slot-by-slot on
// every recomputation, so a shallow copy of the struct would still alias the
// live backing arrays.
func (w *Wallet) Clone() *Wallet {
	positions := make([]Quantity, len(w.Positions))
	copy(positions, w.Positions)
	margin := make([]Price, len(w.MarginAvailable))
	copy(margin, w.MarginAvailable)
	return &Wallet{Venue: w.Venue, Positions: positions, MarginAvailable: margin}
}

// Order is a single order's lifecycle state, shared by both venue order
// clients and the strategy core.
type Order struct {
	Venue         Venue
	PairIndex     int
	Side          Side
	Price         Price
	OriginalQty   Quantity
	FilledQty     Quantity
	AvgFillPrice  Price
	State         OrderState
	OrderID       string // venue-assigned identifier, empty until acknowledged
	ClientOrderID int64  // process-local monotonic timestamp, the correlation key
}

// IsTerminal reports whether the order has reached CLOSED.
func (o *Order) IsTerminal() bool { return o.State == OrderStateClosed }

// RecentBlockhash is the DEX venue's freshness-windowed blockhash cache.
type RecentBlockhash struct {
	Hash                 Hash
	LastValidBlockHeight uint64
	ObservedSlot         uint64
}

// NeedsRefresh reports whether currentSlot has advanced far enough past the
// observed slot to warrant fetching a new blockhash (§4.5: refresh window of
// 30 slots).
func (r RecentBlockhash) NeedsRefresh(currentSlot uint64, refreshWindow uint64) bool {
	return currentSlot >= r.ObservedSlot+refreshWindow
}
