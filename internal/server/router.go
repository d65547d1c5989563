package server

import (
	"payment-core/internal/handler"
	"payment-core/internal/handler/response"

	"payment-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handlers 路由依赖的全部业务 Handler
type Handlers struct {
	Wallet      *handler.WalletHandler
	Transaction *handler.TransactionHandler
	Invoice     *handler.InvoiceHandler
	Conversion  *handler.ConversionHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine。
// 监控指标需要在此之前注册好 (monitor.Init / monitor.InitBusinessMetrics)。
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		api.POST("/register", h.Wallet.Register)
		api.POST("/login", h.Wallet.Login)
		api.POST("/convert", h.Conversion.Convert)

		authed := api.Group("")
		authed.Use(handler.AuthRequired())
		{
			wallet := authed.Group("/wallet")
			{
				wallet.GET("/balances", h.Wallet.GetBalances)
				wallet.GET("/balances/:symbol", h.Wallet.GetTokenBalance)
			}

			tx := authed.Group("/transactions")
			{
				tx.POST("", h.Transaction.CreateTransfer)
				tx.GET("", h.Transaction.ListTransactions)
				tx.POST("/estimate", h.Transaction.EstimateFees)
				tx.POST("/check-balance", h.Transaction.CheckBalance)
				tx.GET("/:id", h.Transaction.GetTransaction)
			}

			authed.POST("/clients", h.Invoice.CreateClient)
			authed.GET("/clients", h.Invoice.ListClients)

			inv := authed.Group("/invoices")
			{
				inv.POST("", h.Invoice.CreateInvoice)
				inv.GET("", h.Invoice.ListInvoices)
				inv.GET("/:id", h.Invoice.GetInvoice)
				inv.PUT("/:id/status", h.Invoice.UpdateStatus)
				inv.POST("/:id/pay", h.Invoice.Pay)
			}
		}
	}

	return r
}
