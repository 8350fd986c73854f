package data

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the size of an Address in bytes.
const AddressLength = 20

// Address identifies a simulated participant.
type Address [AddressLength]byte

// NewAddress derives a fresh address from a random seed. The address is the
// trailing 20 bytes of the seed's Keccak-256 digest.
func NewAddress() Address {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("data: crypto/rand failed: " + err.Error())
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(seed[:])
	sum := h.Sum(nil)

	var a Address
	copy(a[:], sum[len(sum)-AddressLength:])
	return a
}

// String returns the 0x-prefixed hex form of the address.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Short returns the first four bytes in hex, for log lines.
func (a Address) Short() string {
	return hex.EncodeToString(a[:4])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Transaction moves Amount from Origin.
type Transaction struct {
	Origin Address `json:"origin"`
	Amount uint64  `json:"amount"`
}

// NewTransaction creates a transaction.
func NewTransaction(origin Address, amount uint64) Transaction {
	return Transaction{Origin: origin, Amount: amount}
}

// Hash is a block or transaction digest.
type Hash [32]byte

// String returns the hex form of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Block is a mined block. Its contents are not interpreted by the network.
type Block struct {
	Height       uint64        `json:"height"`
	PrevHash     Hash          `json:"prev_hash"`
	Hash         Hash          `json:"hash"`
	Nonce        uint64        `json:"nonce"`
	Miner        Address       `json:"miner"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// ComputeHash returns the SHA3-256 digest of the block header fields and
// transactions. The Hash field itself is not part of the digest.
func (b Block) ComputeHash() Hash {
	h := sha3.New256()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], b.Height)
	h.Write(buf[:])
	h.Write(b.PrevHash[:])
	binary.BigEndian.PutUint64(buf[:], b.Nonce)
	h.Write(buf[:])
	h.Write(b.Miner[:])
	for _, tx := range b.Transactions {
		h.Write(tx.Origin[:])
		binary.BigEndian.PutUint64(buf[:], tx.Amount)
		h.Write(buf[:])
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Verify reports whether Hash matches the block contents.
func (b Block) Verify() bool {
	return b.Hash == b.ComputeHash()
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	c := b
	if b.Transactions != nil {
		c.Transactions = make([]Transaction, len(b.Transactions))
		copy(c.Transactions, b.Transactions)
	}
	return c
}

// BlockVerifyRequest asks peers to verify a block.
type BlockVerifyRequest struct {
	Requester Address `json:"requester"`
	Block     Block   `json:"block"`
}

// Clone returns a deep copy of the request.
func (r BlockVerifyRequest) Clone() BlockVerifyRequest {
	c := r
	c.Block = r.Block.Clone()
	return c
}

// MissingBlockRequest asks peers for a block the requester does not have.
type MissingBlockRequest struct {
	Requester Address `json:"requester"`
	Height    uint64  `json:"height"`
	Hash      Hash    `json:"hash"`
}
