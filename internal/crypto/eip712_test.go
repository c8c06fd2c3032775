package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint256Encoding(t *testing.T) {
	word := Uint256(big.NewInt(1))
	require.Len(t, word, 32)
	assert.Equal(t, byte(1), word[31])

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	word = Uint256(max)
	require.Len(t, word, 32)
	assert.Equal(t, byte(0xff), word[0])
	assert.Equal(t, byte(0xff), word[31])
}

func TestUint256PanicsOnOverflow(t *testing.T) {
	require.Panics(t, func() {
		Uint256(new(big.Int).Lsh(big.NewInt(1), 256))
	})
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	d := NewTypedData("OnchainPointsContract", "0.1", 31337,
		common.HexToAddress("0x0000000000000000000000000000000000000500"))
	structHash := StructHash(
		TypeHash("Request(uint256 deadline,string nonce,uint256 amount)"),
		Uint256(big.NewInt(1_700_000_000_000)),
		StringWord("nonce-1"),
		Uint256(big.NewInt(250)),
	)

	sig, err := signer.SignStructHash(d, structHash)
	require.NoError(t, err)
	got, err := d.RecoverSigner(structHash, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)

	_, err = d.RecoverSigner(structHash, sig[:64])
	require.Error(t, err)
}
