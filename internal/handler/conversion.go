package handler

import (
	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/service/conversion"
	"payment-core/pkg/errno"
	"payment-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

type ConversionHandler struct {
	engine *conversion.Engine
}

func NewConversionHandler(engine *conversion.Engine) *ConversionHandler {
	return &ConversionHandler{engine: engine}
}

// Convert 汇率换算
// @Summary 汇率换算
// @Description 加密货币与法币互换报价 (多上游 + 30 秒缓存)
// @Tags Conversion
// @Accept json
// @Produce json
// @Param request body request.ConvertRequest true "换算参数"
// @Success 200 {object} response.Response
// @Router /api/v1/convert [post]
func (h *ConversionHandler) Convert(c *gin.Context) {
	var req request.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	if !req.Amount.IsPositive() {
		response.Error(c, errno.ErrValidation.WithMessage("Amount must be positive"))
		return
	}

	quote, err := h.engine.Convert(c.Request.Context(), req.Amount, req.From, req.To)
	if err != nil {
		response.Error(c, errno.ErrConversionFailed.WithMessage(err.Error()))
		return
	}
	response.Success(c, quote)
}
