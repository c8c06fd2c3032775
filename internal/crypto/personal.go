package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PersonalDigest wraps a 32-byte message hash with the Ethereum signed-message
// prefix. Activity-reward claims are signed this way rather than through a
// typed-data domain.
func PersonalDigest(messageHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes(
		[]byte("\x19Ethereum Signed Message:\n32"),
		messageHash,
	))
}

// SignPersonal signs a 32-byte message hash under the signed-message prefix,
// returning r||s||v with v in {27,28}.
func (s *Signer) SignPersonal(messageHash []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(PersonalDigest(messageHash), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign personal: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverPersonal recovers the address that signed the prefixed message hash.
func RecoverPersonal(messageHash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(PersonalDigest(messageHash), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
