package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"payment-core/internal/model"
	"payment-core/pkg/errno"

	"gorm.io/gorm"
)

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ResolvedRecipient 收款方解析结果。
// UserID 为空表示外部地址收款 (不关联平台用户)。
type ResolvedRecipient struct {
	Address     string  `json:"address"` // 实际收款地址 (平台用户取其智能账户地址)
	UserID      *uint64 `json:"user_id,omitempty"`
	Identifier  string  `json:"identifier"` // 原始输入
	DisplayName string  `json:"display_name,omitempty"`
}

// RecipientResolver 把用户输入 (地址 / 用户名 / 邮箱) 解析成收款地址
type RecipientResolver struct {
	db *gorm.DB
}

func NewRecipientResolver(db *gorm.DB) *RecipientResolver {
	return &RecipientResolver{db: db}
}

// Resolve 解析收款方。
// 输入是合法 EVM 地址时先尝试关联平台用户 (钱包地址或智能账户地址命中)，
// 关联不上按外部地址放行；输入是用户名/邮箱时必须命中已开通钱包的用户。
func (r *RecipientResolver) Resolve(ctx context.Context, identifier string) (*ResolvedRecipient, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errno.ErrRecipientResolution.WithMessage("Recipient identifier is empty")
	}

	if evmAddressRe.MatchString(identifier) {
		return r.resolveAddress(ctx, identifier)
	}
	return r.resolveUser(ctx, identifier)
}

func (r *RecipientResolver) resolveAddress(ctx context.Context, address string) (*ResolvedRecipient, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("lower(wallet_address) = ? OR lower(smart_account_address) = ?",
			strings.ToLower(address), strings.ToLower(address)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 平台外地址，原样转账
			return &ResolvedRecipient{Address: address, Identifier: address}, nil
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}

	// 平台用户统一打到智能账户地址
	return &ResolvedRecipient{
		Address:     user.SmartAccountAddress,
		UserID:      &user.ID,
		Identifier:  address,
		DisplayName: user.FullName(),
	}, nil
}

func (r *RecipientResolver) resolveUser(ctx context.Context, identifier string) (*ResolvedRecipient, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("username = ? OR lower(email) = ?", identifier, strings.ToLower(identifier)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrRecipientNotFound
		}
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	if !user.HasWallet() {
		return nil, errno.ErrRecipientResolution.WithMessage("Recipient has no wallet-enabled account")
	}

	return &ResolvedRecipient{
		Address:     user.SmartAccountAddress,
		UserID:      &user.ID,
		Identifier:  identifier,
		DisplayName: user.FullName(),
	}, nil
}
