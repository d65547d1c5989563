package handler

import (
	"strconv"

	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
	"payment-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

// CurrentUserID 取认证中间件写入的用户 ID。
// 实际鉴权 (JWT 校验) 由网关完成，这里只信任透传的 X-User-ID。
func CurrentUserID(c *gin.Context) (uint64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// AuthRequired 要求请求带合法的 X-User-ID
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentUserID(c)
		if !ok {
			response.Error(c, errno.ErrTokenInvalid)
			c.Abort()
			return
		}
		c.Set("user_id", id)
		c.Next()
	}
}

type WalletHandler struct {
	wallets  *service.WalletService
	balances *service.BalanceService
}

func NewWalletHandler(wallets *service.WalletService, balances *service.BalanceService) *WalletHandler {
	return &WalletHandler{wallets: wallets, balances: balances}
}

// Register 用户注册接口
// @Summary 用户注册
// @Description 注册新用户并生成托管钱包 (EOA + 智能账户)
// @Tags User
// @Accept json
// @Produce json
// @Param request body request.RegisterRequest true "注册参数"
// @Success 200 {object} response.Response
// @Router /api/v1/register [post]
func (h *WalletHandler) Register(c *gin.Context) {
	var req request.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	user, err := h.wallets.Register(c.Request.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, user)
}

// Login 登录接口
// @Summary 用户登录
// @Tags User
// @Accept json
// @Produce json
// @Param request body request.LoginRequest true "登录参数"
// @Success 200 {object} response.Response
// @Router /api/v1/login [post]
func (h *WalletHandler) Login(c *gin.Context) {
	var req request.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	user, err := h.wallets.Authenticate(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, user)
}

// GetBalances 查询全部代币余额 (部分结果语义：失败的代币带 error 字段)
// @Summary 余额总览
// @Tags Wallet
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/balances [get]
func (h *WalletHandler) GetBalances(c *gin.Context) {
	userID := c.GetUint64("user_id")
	user, err := h.wallets.GetUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !user.HasWallet() {
		response.Error(c, errno.ErrValidation.WithMessage("User has no wallet-enabled account"))
		return
	}
	response.Success(c, h.balances.GetAllBalances(c.Request.Context(), user.SmartAccountAddress))
}

// GetTokenBalance 查询单个代币余额
// @Summary 单代币余额
// @Tags Wallet
// @Produce json
// @Param symbol path string true "代币符号"
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/balances/{symbol} [get]
func (h *WalletHandler) GetTokenBalance(c *gin.Context) {
	userID := c.GetUint64("user_id")
	user, err := h.wallets.GetUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	tb, err := h.balances.GetTokenBalance(c.Request.Context(), user.SmartAccountAddress, c.Param("symbol"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tb)
}
