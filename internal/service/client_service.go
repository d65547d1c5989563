package service

import (
	"context"
	"errors"
	"strings"

	"payment-core/internal/model"
	"payment-core/pkg/errno"

	"gorm.io/gorm"
)

// ClientService 开票客户管理
type ClientService struct {
	db *gorm.DB
}

func NewClientService(db *gorm.DB) *ClientService {
	return &ClientService{db: db}
}

// CreateClientInput 新建客户。Email 命中注册用户时自动关联，
// 关联后的客户可以在站内查看并支付自己名下的发票。
type CreateClientInput struct {
	UserID           uint64
	Name             string
	Email            string
	PaymentTermsDays int
}

func (s *ClientService) CreateClient(ctx context.Context, in CreateClientInput) (*model.Client, error) {
	client := &model.Client{
		UserID:           in.UserID,
		Name:             in.Name,
		Email:            in.Email,
		PaymentTermsDays: in.PaymentTermsDays,
	}
	if client.PaymentTermsDays <= 0 {
		client.PaymentTermsDays = 7
	}

	if in.Email != "" {
		var user model.User
		err := s.db.WithContext(ctx).
			Where("lower(email) = ?", strings.ToLower(in.Email)).
			First(&user).Error
		if err == nil {
			client.ClientUserID = &user.ID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrDatabase.WithMessage(err.Error())
		}
	}

	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return client, nil
}

func (s *ClientService) ListClients(ctx context.Context, userID uint64) ([]model.Client, error) {
	var clients []model.Client
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&clients).Error
	if err != nil {
		return nil, errno.ErrDatabase.WithMessage(err.Error())
	}
	return clients, nil
}
