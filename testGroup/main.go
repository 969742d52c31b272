package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"hr-messenger/client"
	"hr-messenger/client/model"
	"hr-messenger/pkg/auth"
	"hr-messenger/pkg/config"
	"hr-messenger/pkg/logger"
)

func main() {
	// 命令行参数
	var (
		userID    = flag.Int64("user", 1001, "调试模式下的用户ID")
		groupID   = flag.Int64("group", 0, "群组ID，0表示创建新群")
		groupName = flag.String("name", "测试群", "创建群时的群名")
		members   = flag.String("members", "1002,1003", "创建群时的成员ID列表，逗号分隔")
		apiURL    = flag.String("api", "http://localhost:21010", "Messenger服务API地址")
		wsURL     = flag.String("wsurl", "ws://localhost:21011/messenger/ws", "WebSocket网关地址")
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
		fmt.Printf("\n[群%d] 用户%d: %s\n> ", msg.GroupID, msg.From, msg.Content)
	})

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		log.Fatalf("启动客户端失败: %v", err)
	}
	defer m.Stop()

	if err := m.Refresh(ctx); err != nil {
		log.Printf("拉取群组列表失败: %v", err)
	}

	// 未指定群组时先创建
	gid := *groupID
	if gid == 0 {
		memberIDs := parseMembers(*members)
		gid, err = m.Delivery().CreateGroup(ctx, *groupName, "命令行测试群", "custom", memberIDs)
		if err != nil {
			log.Fatalf("创建群组失败: %v", err)
		}
		fmt.Printf("已创建群组 %d (%s)\n", gid, *groupName)
		if err := m.Refresh(ctx); err != nil {
			log.Printf("刷新群组列表失败: %v", err)
		}
	}

	msgLog, err := m.OpenGroup(ctx, gid)
	if err != nil {
		log.Fatalf("打开群聊失败: %v", err)
	}

	fmt.Printf("已进入群%d，历史%d条\n", gid, len(msgLog.Entries()))
	for _, entry := range msgLog.Entries() {
		fmt.Printf("  [%d] 用户%d: %s\n", entry.Message.ID, entry.Message.From, entry.Message.Content)
	}

	fmt.Println("输入消息后回车发送，/groups查看群列表，/add <uid>添加成员，/quit退出")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/groups":
			for _, g := range m.Groups().List() {
				fmt.Printf("  群%d %s 成员%d 未读%d\n", g.ID, g.Name, g.MemberCount, g.UnreadCount)
			}
		case strings.HasPrefix(line, "/add "):
			uid := parseID(strings.TrimPrefix(line, "/add "))
			if uid <= 0 {
				fmt.Println("无效的用户ID")
				break
			}
			if err := m.Delivery().AddMember(ctx, gid, uid, "member"); err != nil {
				fmt.Printf("添加成员失败: %v\n", err)
			} else {
				fmt.Printf("已添加用户%d\n", uid)
			}
		case line != "":
			if _, err := m.Delivery().Send(ctx, model.TargetKindGroup, gid, line); err != nil {
				fmt.Printf("发送失败: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}

// parseMembers 解析逗号分隔的成员ID
func parseMembers(s string) []int64 {
	out := make([]int64, 0)
	for _, part := range strings.Split(s, ",") {
		if id := parseID(part); id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func parseID(s string) int64 {
	var id int64
	fmt.Sscanf(strings.TrimSpace(s), "%d", &id)
	return id
}
