package ctf

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ConditionID derives the deterministic identifier for a condition from its
// oracle, question reference, and outcome slot count.
func ConditionID(oracle common.Address, questionID common.Hash, outcomeSlotCount int) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		oracle.Bytes(),
		questionID.Bytes(),
		uint256Word(uint64(outcomeSlotCount)),
	))
}

// CollectionID combines a parent collection with (conditionID, indexSet).
// The per-condition term is hashed first and folded into the parent with XOR,
// which keeps the combination order-independent: splitting A then B yields
// the same identifier as splitting B then A.
func CollectionID(parent common.Hash, conditionID common.Hash, indexSet uint64) common.Hash {
	term := ethcrypto.Keccak256(conditionID.Bytes(), uint256Word(indexSet))
	if parent == (common.Hash{}) {
		return common.BytesToHash(term)
	}
	var out common.Hash
	for i := range out {
		out[i] = parent[i] ^ term[i]
	}
	return out
}

// PositionID derives the identifier of a (collateral, collection) position.
func PositionID(collateral common.Address, collectionID common.Hash) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(collateral.Bytes(), collectionID.Bytes()))
}

func uint256Word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}
