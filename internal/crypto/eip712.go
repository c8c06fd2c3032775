// Package crypto provides the typed-structured-signature capability consumed
// by the points ledger (spend requests, activity-reward claims) and the
// encrypted key storage for the admin signing key. The engines never touch a
// curve directly; they see only "recover signer from (struct hash, signature)".
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// eip712DomainTypeHash is the pre-computed keccak256 of the canonical domain
// type string. The verifying-contract slot is carried as an address field so
// independently deployed ledgers produce distinct digests.
var eip712DomainTypeHash = ethcrypto.Keccak256(
	[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
)

// TypedData is a bound EIP-712 signing domain. It pre-computes the domain
// separator once; struct hashes are combined with it per request.
type TypedData struct {
	name      string
	version   string
	chainID   int64
	contract  common.Address
	domainSep []byte
}

// NewTypedData builds a signing domain for the given name/version/chain and
// verifying identity.
func NewTypedData(name, version string, chainID int64, contract common.Address) *TypedData {
	d := &TypedData{name: name, version: version, chainID: chainID, contract: contract}
	d.domainSep = ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		Uint256(big.NewInt(chainID)),
		AddressWord(contract),
	))
	return d
}

// Digest computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func (d *TypedData) Digest(structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, d.domainSep, structHash))
}

// RecoverSigner recovers the address that signed the given struct hash under
// this domain. The signature is r||s||v (65 bytes), v in {0,1} or {27,28}.
func (d *TypedData) RecoverSigner(structHash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(d.Digest(structHash), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Signer signs struct hashes under a TypedData domain with a secp256k1 key.
// Used by the admin claim signer and by tests to produce user signatures.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address { return s.address }

// SignStructHash signs a struct hash under the given domain and returns the
// 65-byte r||s||v signature with v in {27,28}.
func (s *Signer) SignStructHash(d *TypedData, structHash []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(d.Digest(structHash), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// --------------------------------------------------------------------------
// EIP-712 encoding helpers
// --------------------------------------------------------------------------

// TypeHash hashes a canonical struct type string, e.g.
// "Request(uint256 deadline,string nonce,uint256 amount)".
func TypeHash(signature string) []byte {
	return ethcrypto.Keccak256([]byte(signature))
}

// StructHash hashes a type hash followed by its 32-byte-encoded fields.
func StructHash(typeHash []byte, fields ...[]byte) []byte {
	return ethcrypto.Keccak256(concatBytes(append([][]byte{typeHash}, fields...)...))
}

// Uint256 returns the 32-byte big-endian encoding of n. n must fit in 256
// bits; wider values panic rather than encode a silently truncated word.
// Engines bounds-check external input before it reaches the encoders.
func Uint256(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) > 32 {
		panic(fmt.Sprintf("crypto: value does not fit in uint256 (%d bytes)", len(b)))
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// AddressWord left-pads an address to a 32-byte word.
func AddressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// StringWord encodes a dynamic string field as keccak256 of its bytes.
func StringWord(s string) []byte {
	return ethcrypto.Keccak256([]byte(s))
}

// ParseSignature decodes a hex signature with optional 0x prefix.
func ParseSignature(sigHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	return raw, nil
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
