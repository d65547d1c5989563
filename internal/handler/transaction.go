package handler

import (
	"net/http"
	"strconv"
	"time"

	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
	"payment-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

type TransactionHandler struct {
	transactions *service.TransactionService
}

func NewTransactionHandler(transactions *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{transactions: transactions}
}

// CreateTransfer 发起无 Gas 转账
// @Summary 发起转账
// @Description 创建并执行一笔 ERC-20 转账 (Paymaster 代付 Gas)
// @Tags Transaction
// @Accept json
// @Produce json
// @Param request body request.CreateTransferRequest true "转账参数"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions [post]
func (h *TransactionHandler) CreateTransfer(c *gin.Context) {
	var req request.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	in := service.CreateTransferInput{
		SenderID:            c.GetUint64("user_id"),
		Password:            req.Password,
		RecipientIdentifier: req.Recipient,
		TokenSymbol:         req.Token,
		Amount:              req.Amount,
		Description:         req.Description,
	}
	if req.IdempotencyKey != "" {
		in.IdempotencyKey = &req.IdempotencyKey
	}

	tx, err := h.transactions.CreateAndExecute(c.Request.Context(), in)
	if err != nil {
		// 已落库的失败记录一并返回，调用方能拿到 transaction_id 追查
		if tx != nil {
			code, msg := errno.Decode(err)
			c.JSON(http.StatusOK, response.Response{Code: code, Message: msg, Data: tx})
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// GetTransaction 查询单笔转账
// @Summary 转账详情
// @Tags Transaction
// @Produce json
// @Param id path string true "业务转账号 (TXN-...)"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	tx, err := h.transactions.GetTransactionStatus(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// ListTransactions 流水查询
// @Summary 转账历史
// @Tags Transaction
// @Produce json
// @Param type query string false "direct / invoice"
// @Param status query string false "状态过滤"
// @Param token query string false "代币过滤"
// @Param from query int false "起始时间 (unix 秒)"
// @Param to query int false "截止时间 (unix 秒)"
// @Param page query int false "页码"
// @Param page_size query int false "每页条数"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions [get]
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	var filter service.HistoryFilter
	filter.Type = c.Query("type")
	filter.Status = c.Query("status")
	filter.TokenSymbol = c.Query("token")
	if ts := intQuery(c, "from", 0); ts > 0 {
		from := time.Unix(int64(ts), 0)
		filter.From = &from
	}
	if ts := intQuery(c, "to", 0); ts > 0 {
		to := time.Unix(int64(ts), 0)
		filter.To = &to
	}
	filter.Page = intQuery(c, "page", 1)
	filter.PageSize = intQuery(c, "page_size", 20)

	items, summary, err := h.transactions.GetUserTransactionHistory(c.Request.Context(), c.GetUint64("user_id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": items, "summary": summary})
}

// EstimateFees 费用预估
// @Summary 费用预估
// @Tags Transaction
// @Accept json
// @Produce json
// @Param request body request.EstimateRequest true "预估参数"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions/estimate [post]
func (h *TransactionHandler) EstimateFees(c *gin.Context) {
	var req request.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	est, err := h.transactions.EstimateTransactionCost(c.Request.Context(), req.Token, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, est)
}

// CheckBalance 转账前余额预检
// @Summary 余额预检
// @Tags Transaction
// @Accept json
// @Produce json
// @Param request body request.EstimateRequest true "预检参数"
// @Success 200 {object} response.Response
// @Router /api/v1/transactions/check-balance [post]
func (h *TransactionHandler) CheckBalance(c *gin.Context) {
	var req request.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	sufficient, balance, err := h.transactions.CheckSufficientBalance(
		c.Request.Context(), c.GetUint64("user_id"), req.Token, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"sufficient": sufficient, "balance": balance})
}

func intQuery(c *gin.Context, key string, def int) int {
	if v, ok := c.GetQuery(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
