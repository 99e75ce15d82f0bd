package mint

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Entropy supplies the pseudo-random material for the batch draw. The default
// keccak mix is deterministic given its inputs and is NOT unpredictable to a
// party who can observe an in-flight call before it lands; deployments that
// need stronger guarantees should plug in a commit-reveal or VRF-backed
// provider.
type Entropy interface {
	Draw(height uint64, now int64, remaining uint64, seed []byte) []byte
}

// KeccakEntropy hashes {height, wall time, remaining queue length, seed} into
// 32 bytes of draw material.
type KeccakEntropy struct{}

func (KeccakEntropy) Draw(height uint64, now int64, remaining uint64, seed []byte) []byte {
	buf := make([]byte, 24, 24+len(seed))
	binary.BigEndian.PutUint64(buf[0:8], height)
	binary.BigEndian.PutUint64(buf[8:16], uint64(now))
	binary.BigEndian.PutUint64(buf[16:24], remaining)
	buf = append(buf, seed...)
	return ethcrypto.Keccak256(buf)
}

// drawIndex reduces 32 bytes of entropy to an index in [0, poolSize).
func drawIndex(material []byte, poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	n := new(big.Int).SetBytes(material)
	return int(n.Mod(n, big.NewInt(int64(poolSize))).Int64())
}
