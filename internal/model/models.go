package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User 用户表
// SmartAccountAddress 是可花费的目标地址 (链上智能账户)，
// EncryptedKey 是 keystore JSON (pkg/keystore)，解密必须提供用户密码。
type User struct {
	ID                  uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Username            string         `gorm:"type:varchar(255);not null;unique" json:"username"`
	Email               string         `gorm:"type:varchar(255);not null;unique" json:"email"`
	PasswordHash        string         `gorm:"type:varchar(255);not null" json:"-"` // 不返回密码
	Firstname           string         `gorm:"type:varchar(255)" json:"firstname"`
	Lastname            string         `gorm:"type:varchar(255)" json:"lastname"`
	WalletAddress       string         `gorm:"type:varchar(64);index" json:"wallet_address"`
	SmartAccountAddress string         `gorm:"type:varchar(64);index" json:"smart_account_address"`
	EncryptedKey        string         `gorm:"type:text" json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

// FullName 展示用姓名
func (u *User) FullName() string {
	return strings.TrimSpace(u.Firstname + " " + u.Lastname)
}

// HasWallet 用户是否已开通链上账户
func (u *User) HasWallet() bool {
	return u.SmartAccountAddress != ""
}

// Client 开票对象 (收款方的客户)。
// ClientUserID 非空时表示该客户同时也是平台注册用户。
type Client struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uint64    `gorm:"not null;index" json:"user_id"` // 归属的收款用户
	ClientUserID     *uint64   `gorm:"index" json:"client_user_id,omitempty"`
	Name             string    `gorm:"type:varchar(255);not null" json:"name"`
	Email            string    `gorm:"type:varchar(255)" json:"email"`
	PaymentTermsDays int       `gorm:"not null;default:7" json:"payment_terms_days"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (Client) TableName() string {
	return "clients"
}
