package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// scrypt N=262144 较慢，整轮测试只做一次加密，错误路径复用同一份密文。
func TestKeystoreRoundTrip(t *testing.T) {
	encrypted, err := EncryptKey(testKeyHex, "correct horse battery staple")
	require.NoError(t, err)

	// V3 结构字段
	assert.Equal(t, 3, encrypted.Version)
	assert.NotEmpty(t, encrypted.Id)
	assert.Equal(t, "aes-256-gcm", encrypted.Crypto.Cipher)
	assert.Equal(t, "scrypt", encrypted.Crypto.KDF)
	assert.Equal(t, scryptN, encrypted.Crypto.KDFParams.N)
	assert.Equal(t, scryptDKLen, encrypted.Crypto.KDFParams.DKLen)
	assert.NotEmpty(t, encrypted.Crypto.KDFParams.Salt)
	assert.NotEmpty(t, encrypted.Crypto.MAC)
	// 密文不应包含明文私钥
	assert.NotContains(t, encrypted.Crypto.CipherText, testKeyHex)

	// 序列化到数据库字段再还原
	stored, err := encrypted.Marshal()
	require.NoError(t, err)
	restored, err := Unmarshal(stored)
	require.NoError(t, err)

	plaintext, err := DecryptKey(restored, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, plaintext)

	// 错误密码必须返回 ErrMACMismatch，调用方依赖该哨兵错误区分密码错误
	_, err = DecryptKey(restored, "wrong password")
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal("{not json")
	assert.Error(t, err)
}
