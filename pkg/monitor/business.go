package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	TransactionCreatedTotal   *prometheus.CounterVec
	TransactionConfirmedTotal *prometheus.CounterVec
	TransactionFailedTotal    *prometheus.CounterVec
	InvoicePaymentTotal       *prometheus.CounterVec
	ConversionProviderErrors  *prometheus.CounterVec
	UserOpDuration            *prometheus.HistogramVec
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		TransactionCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transaction_created_total",
			Help: "The total number of created transfer records",
		}, []string{"token"}),
		TransactionConfirmedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transaction_confirmed_total",
			Help: "The total number of confirmed transfers",
		}, []string{"token"}),
		TransactionFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transaction_failed_total",
			Help: "The total number of failed transfers",
		}, []string{"token"}),
		InvoicePaymentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_invoice_payment_total",
			Help: "The total number of invoice settlements",
		}, []string{"status"}),
		ConversionProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_conversion_provider_errors_total",
			Help: "Rate-quote provider failures by provider name",
		}, []string{"provider"}),
		UserOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_userop_duration_seconds",
			Help:    "Duration from user operation submission to inclusion receipt",
			Buckets: []float64{1, 5, 15, 30, 60, 90, 180},
		}, []string{"token"}),
	}
}
