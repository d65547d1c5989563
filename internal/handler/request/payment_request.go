package request

import "github.com/shopspring/decimal"

type RegisterRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=64"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Firstname string `json:"firstname" binding:"max=64"`
	Lastname  string `json:"lastname" binding:"max=64"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"` // username or email
	Password   string `json:"password" binding:"required"`
}

type CreateTransferRequest struct {
	Recipient      string          `json:"recipient" binding:"required"` // address / username / email
	Token          string          `json:"token" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Description    string          `json:"description" binding:"max=512"`
	Password       string          `json:"password" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"max=128"`
}

type EstimateRequest struct {
	Token  string          `json:"token" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type ConvertRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	From   string          `json:"from" binding:"required"`
	To     string          `json:"to" binding:"required"`
}

type CreateClientRequest struct {
	Name             string `json:"name" binding:"required,max=255"`
	Email            string `json:"email" binding:"omitempty,email"`
	PaymentTermsDays int    `json:"payment_terms_days" binding:"omitempty,min=1,max=365"`
}

type InvoiceItemRequest struct {
	Description string          `json:"description" binding:"required,max=512"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"required"`
}

type CreateInvoiceRequest struct {
	ClientID      uint64               `json:"client_id" binding:"required"`
	Items         []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
	DiscountType  string               `json:"discount_type" binding:"omitempty,oneof=percentage fixed"`
	DiscountValue decimal.Decimal      `json:"discount_value"`
	ExpiresAt     *int64               `json:"expires_at,omitempty"` // unix 秒
}

type UpdateInvoiceStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=sent cancelled"`
}

type PayInvoiceRequest struct {
	Token          string          `json:"token" binding:"required"`
	Amount         decimal.Decimal `json:"amount"` // 部分支付时必填 (USD)
	Password       string          `json:"password" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"max=128"`
}
