package context

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// 上下文键类型
type contextKey string

const (
	// 业务相关的上下文键
	TraceIDKey   contextKey = "trace_id"
	UserIDKey    contextKey = "user_id"
	MessageIDKey contextKey = "message_id"
	TargetIDKey  contextKey = "target_id"
	RequestIDKey contextKey = "request_id"

	// 服务相关的上下文键
	ServiceNameKey contextKey = "service_name"
	ClientIPKey    contextKey = "client_ip"
	UserAgentKey   contextKey = "user_agent"
)

// WithTraceID 在context中设置TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}

	// 同时设置到OpenTelemetry span中
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("trace.id", traceID))
	}

	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID 从context中获取TraceID
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	// 优先从OpenTelemetry span中获取
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}

	return ""
}

// WithUserID 在context中设置UserID
func WithUserID(ctx context.Context, userID int64) context.Context {
	if userID <= 0 {
		return ctx
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Int64("user.id", userID))
	}

	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID 从context中获取UserID
func GetUserID(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if userID, ok := ctx.Value(UserIDKey).(int64); ok {
		return userID
	}
	return 0
}

// WithMessageID 在context中设置MessageID
func WithMessageID(ctx context.Context, messageID int64) context.Context {
	if messageID <= 0 {
		return ctx
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Int64("message.id", messageID))
	}

	return context.WithValue(ctx, MessageIDKey, messageID)
}

// GetMessageID 从context中获取MessageID
func GetMessageID(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if messageID, ok := ctx.Value(MessageIDKey).(int64); ok {
		return messageID
	}
	return 0
}

// WithTargetID 在context中设置会话/群组的TargetID
func WithTargetID(ctx context.Context, targetID int64) context.Context {
	if targetID <= 0 {
		return ctx
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Int64("target.id", targetID))
	}

	return context.WithValue(ctx, TargetIDKey, targetID)
}

// GetTargetID 从context中获取TargetID
func GetTargetID(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if targetID, ok := ctx.Value(TargetIDKey).(int64); ok {
		return targetID
	}
	return 0
}

// WithRequestID 在context中设置RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID 从context中获取RequestID
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithServiceInfo 在context中设置服务信息
func WithServiceInfo(ctx context.Context, serviceName string) context.Context {
	if serviceName == "" {
		return ctx
	}
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

// GetServiceName 从context中获取服务名
func GetServiceName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

// WithClientInfo 在context中设置客户端信息
func WithClientInfo(ctx context.Context, clientIP, userAgent string) context.Context {
	if clientIP != "" {
		ctx = context.WithValue(ctx, ClientIPKey, clientIP)
	}
	if userAgent != "" {
		ctx = context.WithValue(ctx, UserAgentKey, userAgent)
	}
	return ctx
}

// GenerateTraceID 生成新的TraceID
func GenerateTraceID() string {
	return uuid.New().String()
}

// GenerateRequestID 生成新的RequestID
func GenerateRequestID() string {
	return uuid.New().String()
}

// FormatUserID 将UserID格式化为字符串
func FormatUserID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
