package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tracecontext "hr-messenger/pkg/context"
	"hr-messenger/pkg/logger"
)

// OTelMiddleware OpenTelemetry中间件配置
type OTelMiddleware struct {
	serviceName string
	logger      logger.Logger
}

// NewOTelMiddleware 创建OpenTelemetry中间件
func NewOTelMiddleware(serviceName string, logger logger.Logger) *OTelMiddleware {
	return &OTelMiddleware{
		serviceName: serviceName,
		logger:      logger,
	}
}

// GinMiddleware 返回Gin的OpenTelemetry中间件
func (m *OTelMiddleware) GinMiddleware() gin.HandlerFunc {
	// 使用官方的otelgin中间件作为基础
	baseMiddleware := otelgin.Middleware(m.serviceName)

	return gin.HandlerFunc(func(c *gin.Context) {
		baseMiddleware(c)

		// 增强context，添加业务信息
		ctx := m.enhanceContext(c.Request.Context(), c)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	})
}

// enhanceContext 增强context，添加业务追踪信息
func (m *OTelMiddleware) enhanceContext(ctx context.Context, c *gin.Context) context.Context {
	// 生成或提取TraceID
	traceID := c.GetHeader("X-Trace-ID")
	if traceID == "" {
		if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		}
	}
	ctx = tracecontext.WithTraceID(ctx, traceID)

	// 提取RequestID
	requestID := c.GetHeader("X-Request-ID")
	ctx = tracecontext.WithRequestID(ctx, requestID)

	// 提取UserID（从认证中间件设置的值）
	if userIDVal, exists := c.Get("userID"); exists {
		if userID, ok := userIDVal.(int64); ok {
			ctx = tracecontext.WithUserID(ctx, userID)
		}
	}

	// 设置服务信息
	ctx = tracecontext.WithServiceInfo(ctx, m.serviceName)

	// 设置客户端信息
	ctx = tracecontext.WithClientInfo(ctx, c.ClientIP(), c.GetHeader("User-Agent"))

	// 将业务信息添加到OpenTelemetry span
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("service.name", m.serviceName),
			attribute.String("http.client_ip", c.ClientIP()),
		)
	}

	return ctx
}
