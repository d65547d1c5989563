package gasless

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer 是一次编排调用内的临时签名能力。
// 由 WalletService 用用户密码解锁得到，调用结束必须 Destroy，
// 原始私钥不允许在编排调用之外的生命周期里留存。
type Signer struct {
	key *ecdsa.PrivateKey
	// OwnerAddress 私钥对应的托管 EOA 地址。既是 userOp 与 permit 的
	// 签名方，也是用户钱包身份：注册时落库的 WalletAddress 就是它，
	// 智能账户地址由它 CREATE 派生。
	OwnerAddress common.Address
	// AccountAddress 链上智能账户地址 (资金所在的地址, UserOperation 的 sender)
	AccountAddress common.Address
}

func NewSigner(key *ecdsa.PrivateKey, accountAddress common.Address) *Signer {
	return &Signer{
		key:            key,
		OwnerAddress:   crypto.PubkeyToAddress(key.PublicKey),
		AccountAddress: accountAddress,
	}
}

// SignHash 对 32 字节哈希做 secp256k1 签名
func (s *Signer) SignHash(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.key)
}

// Destroy 将私钥标量清零。Destroy 之后 Signer 不可再用。
func (s *Signer) Destroy() {
	if s.key != nil {
		s.key.D.Set(big.NewInt(0))
		s.key = nil
	}
}
