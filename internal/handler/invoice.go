package handler

import (
	"net/http"
	"strconv"
	"time"

	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
	"payment-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	invoices *service.InvoiceService
	clients  *service.ClientService
}

func NewInvoiceHandler(invoices *service.InvoiceService, clients *service.ClientService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, clients: clients}
}

// CreateClient 新建开票客户
// @Summary 新建客户
// @Tags Invoice
// @Accept json
// @Produce json
// @Param request body request.CreateClientRequest true "客户参数"
// @Success 200 {object} response.Response
// @Router /api/v1/clients [post]
func (h *InvoiceHandler) CreateClient(c *gin.Context) {
	var req request.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	client, err := h.clients.CreateClient(c.Request.Context(), service.CreateClientInput{
		UserID:           c.GetUint64("user_id"),
		Name:             req.Name,
		Email:            req.Email,
		PaymentTermsDays: req.PaymentTermsDays,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, client)
}

// ListClients 客户列表
// @Summary 客户列表
// @Tags Invoice
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/clients [get]
func (h *InvoiceHandler) ListClients(c *gin.Context) {
	clients, err := h.clients.ListClients(c.Request.Context(), c.GetUint64("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, clients)
}

// CreateInvoice 开票
// @Summary 开票
// @Tags Invoice
// @Accept json
// @Produce json
// @Param request body request.CreateInvoiceRequest true "开票参数"
// @Success 200 {object} response.Response
// @Router /api/v1/invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req request.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	items := make([]model.InvoiceItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, model.InvoiceItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	in := service.CreateInvoiceInput{
		UserID:        c.GetUint64("user_id"),
		ClientID:      req.ClientID,
		Items:         items,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
	}
	if req.ExpiresAt != nil {
		t := time.Unix(*req.ExpiresAt, 0)
		in.ExpiresAt = &t
	}

	invoice, err := h.invoices.CreateInvoice(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invoice)
}

// ListInvoices 发票列表
// @Summary 发票列表
// @Tags Invoice
// @Produce json
// @Param status query string false "状态过滤"
// @Success 200 {object} response.Response
// @Router /api/v1/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.invoices.ListInvoices(c.Request.Context(), c.GetUint64("user_id"), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invoices)
}

// GetInvoice 发票详情 (含支付流水)
// @Summary 发票详情
// @Tags Invoice
// @Produce json
// @Param id path int true "发票 ID"
// @Success 200 {object} response.Response
// @Router /api/v1/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	invoiceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrValidation.WithMessage("Invalid invoice id"))
		return
	}
	details, err := h.invoices.GetInvoiceDetails(c.Request.Context(), c.GetUint64("user_id"), invoiceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, details)
}

// UpdateStatus 手工状态迁移 (发送 / 取消)
// @Summary 更新发票状态
// @Tags Invoice
// @Accept json
// @Produce json
// @Param id path int true "发票 ID"
// @Param request body request.UpdateInvoiceStatusRequest true "目标状态"
// @Success 200 {object} response.Response
// @Router /api/v1/invoices/{id}/status [put]
func (h *InvoiceHandler) UpdateStatus(c *gin.Context) {
	invoiceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrValidation.WithMessage("Invalid invoice id"))
		return
	}
	var req request.UpdateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	invoice, err := h.invoices.UpdateInvoiceStatus(c.Request.Context(), c.GetUint64("user_id"), invoiceID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, invoice)
}

// Pay 支付发票。amount 为空付全款，否则按 USD 金额部分支付。
// @Summary 支付发票
// @Tags Invoice
// @Accept json
// @Produce json
// @Param id path int true "发票 ID"
// @Param request body request.PayInvoiceRequest true "支付参数"
// @Success 200 {object} response.Response
// @Router /api/v1/invoices/{id}/pay [post]
func (h *InvoiceHandler) Pay(c *gin.Context) {
	invoiceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrValidation.WithMessage("Invalid invoice id"))
		return
	}
	var req request.PayInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	in := service.PaymentInput{
		PayerID:     c.GetUint64("user_id"),
		Password:    req.Password,
		InvoiceID:   invoiceID,
		TokenSymbol: req.Token,
		Amount:      req.Amount,
	}
	if req.IdempotencyKey != "" {
		in.IdempotencyKey = &req.IdempotencyKey
	}

	var tx *model.Transaction
	var invoice *model.Invoice
	if req.Amount.IsZero() {
		tx, invoice, err = h.invoices.PayInFull(c.Request.Context(), in)
	} else {
		tx, invoice, err = h.invoices.PayPartial(c.Request.Context(), in)
	}
	if err != nil {
		if tx != nil {
			code, msg := errno.Decode(err)
			c.JSON(http.StatusOK, response.Response{Code: code, Message: msg,
				Data: gin.H{"transaction": tx, "invoice": invoice}})
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"transaction": tx, "invoice": invoice})
}
