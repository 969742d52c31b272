package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"hr-messenger/client"
	"hr-messenger/client/model"
	"hr-messenger/pkg/auth"
	"hr-messenger/pkg/config"
	"hr-messenger/pkg/logger"
)

func main() {
	// 命令行参数
	var (
		userID   = flag.Int64("user", 1001, "调试模式下的用户ID")
		targetID = flag.Int64("target", 1002, "目标用户ID")
		apiURL   = flag.String("api", "http://localhost:21010", "Messenger服务API地址")
		wsURL    = flag.String("wsurl", "ws://localhost:21011/messenger/ws", "WebSocket网关地址")
		autoMode = flag.Bool("auto", false, "自动模式，自动发送消息")
	)
	flag.Parse()

	if err := logger.Init("info"); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	token, err := auth.GenerateJWT(map[string]any{
		"user_id":  *userID,
		"username": fmt.Sprintf("test-user-%d", *userID),
	})
	if err != nil {
		log.Fatalf("生成token失败: %v", err)
	}

	cfg := config.TransportConfig{
		Enabled: true,
		AppKey:  "test",
		Cluster: "local",
		WSURL:   *wsURL,
		APIURL:  *apiURL,
	}

	m := client.New(*userID, token, cfg, nil, logger.GetLogger())
	m.OnIncomingMessage(func(msg *model.Message) {
		fmt.Printf("\n[收到] 用户%d: %s\n> ", msg.From, msg.Content)
	})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		log.Fatalf("启动客户端失败: %v", err)
	}
	defer m.Stop()

	if m.RESTOnly() {
		fmt.Println("实时通道不可用，运行在仅REST模式")
	}

	if err := m.Refresh(ctx); err != nil {
		log.Printf("拉取会话列表失败: %v", err)
	}

	msgLog, err := m.OpenConversation(ctx, *targetID)
	if err != nil {
		log.Fatalf("打开会话失败: %v", err)
	}

	fmt.Printf("已连接，用户%d -> 用户%d，历史%d条\n", *userID, *targetID, len(msgLog.Entries()))
	for _, entry := range msgLog.Entries() {
		fmt.Printf("  [%d] 用户%d: %s\n", entry.Message.ID, entry.Message.From, entry.Message.Content)
	}

	if *autoMode {
		runAuto(ctx, m, *targetID)
		return
	}

	// 交互模式：逐行读取并发送
	fmt.Println("输入消息后回车发送，/list查看会话，/quit退出")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/list":
			for _, conv := range m.Conversations().List() {
				fmt.Printf("  用户%d %s 未读%d 最近: %s\n", conv.UserID, conv.UserName, conv.UnreadCount, conv.LastMessage)
			}
		case line != "":
			nonce, err := m.Delivery().Send(ctx, model.TargetKindDirect, *targetID, line)
			if err != nil {
				fmt.Printf("发送失败: %v\n", err)
			} else {
				fmt.Printf("[已发送] nonce=%s\n", nonce)
			}
		}
		fmt.Print("> ")
	}
}

// runAuto 自动模式，周期性发送编号消息
func runAuto(ctx context.Context, m *client.Messenger, targetID int64) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	seq := 0
	for range ticker.C {
		seq++
		body := fmt.Sprintf("自动消息 #%d @%s", seq, time.Now().Format("15:04:05"))
		if _, err := m.Delivery().Send(ctx, model.TargetKindDirect, targetID, body); err != nil {
			log.Printf("发送失败: %v", err)
			continue
		}
		fmt.Printf("[自动发送] %s\n", body)
	}
}
