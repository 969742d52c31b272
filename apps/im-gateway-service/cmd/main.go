package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"hr-messenger/apps/im-gateway-service/consumer"
	"hr-messenger/apps/im-gateway-service/handler"
	"hr-messenger/apps/im-gateway-service/model"
	"hr-messenger/apps/im-gateway-service/service"
	"hr-messenger/pkg/kafka"
	"hr-messenger/pkg/lifecycle"
	"hr-messenger/pkg/server"
	"hr-messenger/pkg/telemetry"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("im-gateway-service", server.Options{
		Redis: true,
	})

	cfg := app.GetConfig()

	if err := telemetry.InitGlobal(telemetry.DefaultConfig("im-gateway-service")); err != nil {
		log.Fatalf("Failed to init telemetry: %v", err)
	}

	svc := service.NewService(app.GetRedisClient(), app.GetLogger())
	wsHandler := handler.NewWebSocketHandler(svc, cfg.App.JWTSecret, app.GetLogger())

	app.EnableHTTP()
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		wsHandler.RegisterRoutes(engine)
	})

	// 消息事件消费者
	pushConsumer := consumer.NewPushConsumer(svc, app.GetRedisClient(), app.GetLogger())
	kafkaConsumer, err := kafka.InitConsumer(kafka.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topics:  []string{model.MessageEventTopic},
	}, pushConsumer)
	if err != nil {
		log.Fatalf("Failed to init Kafka consumer: %v", err)
	}

	app.AddLifecycleHook(lifecycle.Hook{
		Name:     "push-consumer",
		Priority: 200,
		OnStart: func(ctx context.Context) error {
			return kafkaConsumer.StartConsuming(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return kafkaConsumer.Close()
		},
	})

	app.AddLifecycleHook(lifecycle.Hook{
		Name:     "telemetry",
		Priority: 400,
		OnStop: func(ctx context.Context) error {
			return telemetry.ShutdownGlobal(ctx)
		},
	})

	if err := app.Run(); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}
