package service

import (
	"context"
	"encoding/hex"
	"errors"

	"payment-core/internal/model"
	"payment-core/internal/service/gasless"
	"payment-core/pkg/errno"
	"payment-core/pkg/keystore"
	"payment-core/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// WalletService 用户注册与托管密钥管理。
// 私钥用用户密码经 keystore (scrypt + AES-GCM) 加密后落库，
// 服务端不留明文：没有用户密码就签不了名。
type WalletService struct {
	db *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{db: db}
}

// RegisterInput 注册入参 (handler 层已做格式校验)
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Firstname string
	Lastname  string
}

// Register 创建用户并生成托管钱包。
// 智能账户地址按 owner 地址做确定性推导 (工厂合约 salt=0 的反事实地址)，
// 首笔 UserOperation 上链时由 EntryPoint 完成实际部署。
func (s *WalletService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	ownerAddress := crypto.PubkeyToAddress(key.PublicKey)
	accountAddress := crypto.CreateAddress(ownerAddress, 0)

	privateKeyHex := hex.EncodeToString(crypto.FromECDSA(key))
	encrypted, err := keystore.EncryptKey(privateKeyHex, in.Password)
	if err != nil {
		return nil, err
	}
	encryptedJSON, err := encrypted.Marshal()
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:            in.Username,
		Email:               in.Email,
		PasswordHash:        string(passwordHash),
		Firstname:           in.Firstname,
		Lastname:            in.Lastname,
		WalletAddress:       ownerAddress.Hex(),
		SmartAccountAddress: accountAddress.Hex(),
		EncryptedKey:        encryptedJSON,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	logger.Info("用户已注册",
		zap.Uint64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("smart_account", user.SmartAccountAddress))
	return user, nil
}

// Authenticate 用户名/邮箱 + 密码登录
func (s *WalletService) Authenticate(ctx context.Context, identifier, password string) (*model.User, error) {
	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errno.ErrPasswordIncorrect
	}
	return user, nil
}

// GetUser 按 ID 查询用户
func (s *WalletService) GetUser(ctx context.Context, userID uint64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrUserNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return &user, nil
}

func (s *WalletService) findByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", identifier, identifier).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrUserNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return &user, nil
}

// UnlockSigner 用用户密码解锁托管私钥，返回一次性的签名器。
// 调用方用完必须 Destroy。密码错误映射到 ErrPasswordIncorrect，
// 不向上暴露 keystore 的 MAC 细节。
func (s *WalletService) UnlockSigner(user *model.User, password string) (*gasless.Signer, error) {
	if !user.HasWallet() || user.EncryptedKey == "" {
		return nil, errno.ErrValidation.WithMessage("User has no wallet-enabled account")
	}

	encrypted, err := keystore.Unmarshal(user.EncryptedKey)
	if err != nil {
		return nil, err
	}
	privateKeyHex, err := keystore.DecryptKey(encrypted, password)
	if err != nil {
		if errors.Is(err, keystore.ErrMACMismatch) {
			return nil, errno.ErrPasswordIncorrect
		}
		return nil, err
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return gasless.NewSigner(key, common.HexToAddress(user.SmartAccountAddress)), nil
}
