package service

import (
	"context"
	"testing"

	"payment-core/pkg/errno"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterProvisionsWallet(t *testing.T) {
	h := newHarness(t)
	user := h.registerUser(t, "alice", "alice@example.com")

	assert.True(t, user.HasWallet())
	assert.NotEmpty(t, user.WalletAddress)
	assert.NotEmpty(t, user.SmartAccountAddress)
	assert.NotEqual(t, user.WalletAddress, user.SmartAccountAddress)
	// 密钥绝不明文落库
	assert.NotEmpty(t, user.EncryptedKey)
	assert.NotContains(t, user.EncryptedKey, user.WalletAddress[2:])
}

func TestUnlockSignerRoundTrip(t *testing.T) {
	h := newHarness(t)
	user := h.registerUser(t, "alice", "alice@example.com")

	signer, err := h.wallets.UnlockSigner(user, testPassword)
	require.NoError(t, err)
	defer signer.Destroy()

	// 解锁出来的私钥必须对应注册时的地址
	assert.Equal(t, user.WalletAddress, signer.OwnerAddress.Hex())
	assert.Equal(t, user.SmartAccountAddress, signer.AccountAddress.Hex())

	// 能正常签名
	hash := crypto.Keccak256([]byte("payload"))
	sig, err := signer.SignHash(hash)
	require.NoError(t, err)
	assert.Len(t, sig, 65)
}

func TestUnlockSignerWrongPassword(t *testing.T) {
	h := newHarness(t)
	user := h.registerUser(t, "alice", "alice@example.com")

	_, err := h.wallets.UnlockSigner(user, "not-the-password")
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrPasswordIncorrect.Code, code)
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	h.registerUser(t, "alice", "alice@example.com")

	user, err := h.wallets.Authenticate(context.Background(), "alice", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = h.wallets.Authenticate(context.Background(), "alice", "bad")
	require.Error(t, err)
	code, _ := errno.Decode(err)
	assert.Equal(t, errno.ErrPasswordIncorrect.Code, code)

	_, err = h.wallets.Authenticate(context.Background(), "ghost", testPassword)
	require.Error(t, err)
	code, _ = errno.Decode(err)
	assert.Equal(t, errno.ErrUserNotFound.Code, code)
}

func TestBalanceServicePartialResults(t *testing.T) {
	h := newHarness(t)
	user := h.registerUser(t, "alice", "alice@example.com")
	h.chain.setBalance(user.SmartAccountAddress, 75, 6)

	summary := h.balances.GetAllBalances(context.Background(), user.SmartAccountAddress)
	require.Len(t, summary.Balances, 1)
	assert.True(t, summary.Balances[0].Balance.Equal(decimal.NewFromInt(75)))
	assert.True(t, summary.TotalUSD.Equal(decimal.NewFromInt(75)))
	assert.Empty(t, summary.Balances[0].Error)
}
