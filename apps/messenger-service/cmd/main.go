package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"hr-messenger/apps/messenger-service/dao"
	"hr-messenger/apps/messenger-service/handler"
	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/apps/messenger-service/service"
	"hr-messenger/pkg/lifecycle"
	"hr-messenger/pkg/server"
	"hr-messenger/pkg/snowflake"
	"hr-messenger/pkg/telemetry"
)

func main() {
	// 创建应用程序
	app := server.NewApplication("messenger-service", server.Options{
		MongoDB:    true,
		PostgreSQL: true,
		Redis:      true,
		Kafka:      true,
	})

	cfg := app.GetConfig()

	if err := telemetry.InitGlobal(telemetry.DefaultConfig("messenger-service")); err != nil {
		log.Fatalf("Failed to init telemetry: %v", err)
	}

	// 建表
	if err := app.GetPostgreSQL().AutoMigrate(
		&model.Conversation{},
		&model.Group{},
		&model.GroupMember{},
		&model.ReadState{},
		&model.User{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	idGen, err := snowflake.NewSnowflake(int64(cfg.App.MachineID))
	if err != nil {
		log.Fatalf("Failed to init snowflake: %v", err)
	}

	messengerDAO := dao.NewMessengerDAO(app.GetPostgreSQL())
	messageDAO, err := dao.NewMessageDAO(app.GetMongoDB())
	if err != nil {
		log.Fatalf("Failed to init message DAO: %v", err)
	}

	svc := service.NewService(messengerDAO, messageDAO, app.GetRedisClient(), app.GetKafkaProducer(), idGen, app.GetLogger())
	httpHandler := handler.NewHTTPHandler(svc, app.GetLogger())

	app.EnableHTTP()
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine)
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
