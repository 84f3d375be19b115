package main

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-orchestra/orchestra-go/pkg/mcpconn"
)

func main() {
	ctx := context.Background()

	transport := &mcp.CommandTransport{
		Command: exec.Command("npx", "@modelcontextprotocol/server-everything"),
	}
	conn := mcpconn.New("everything", transport, &mcpconn.Options{
		ClientName:     "connect-example",
		ConnectTimeout: 15 * time.Second,
		OnNotification: func(_ context.Context, n mcpconn.Notification) {
			fmt.Printf("notification: %s\n", n.Method())
		},
	})
	if err := conn.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if info := conn.ServerInfo(); info != nil {
		fmt.Printf("Connected to %s %s\n", info.Name, info.Version)
	}

	tools, err := conn.ListAllTools(ctx)
	if err != nil {
		log.Fatalf("list tools: %v", err)
	}
	for _, tool := range tools {
		fmt.Printf("Tool: %s\n", tool.Name)
	}

	res, err := conn.CallToolWithProgress(ctx,
		&mcp.CallToolParams{
			Name:      "longRunningOperation",
			Arguments: map[string]any{"duration": 2, "steps": 4},
		},
		func(u mcpconn.ProgressUpdate) {
			if u.Total != nil {
				fmt.Printf("progress: %.0f/%.0f\n", u.Progress, *u.Total)
				return
			}
			fmt.Printf("progress: %.0f\n", u.Progress)
		})
	if err != nil {
		log.Fatalf("call tool: %v", err)
	}
	for _, block := range res.Content {
		if text, ok := block.(*mcp.TextContent); ok {
			fmt.Println(text.Text)
		}
	}
}
