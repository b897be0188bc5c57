// Command chatline opens one conversation and tails it to stdout: the
// merged timeline first, then live updates as they arrive. It exists to
// exercise the engine end to end against a running backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chatline/internal/client/app"
	"github.com/dmitrijs2005/chatline/internal/client/config"
	"github.com/dmitrijs2005/chatline/internal/client/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	conversationID := os.Getenv("CHATLINE_CONVERSATION")
	selfID := os.Getenv("CHATLINE_USER")
	if conversationID == "" || selfID == "" {
		log.Fatal("CHATLINE_CONVERSATION and CHATLINE_USER must be set")
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()
	a.SetTokens(os.Getenv("CHATLINE_ACCESS_TOKEN"), os.Getenv("CHATLINE_REFRESH_TOKEN"))

	conv, err := a.OpenConversation(ctx, conversationID, selfID, nil, nil)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer conv.Close()

	msgs, err := conv.Messages(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	for _, m := range msgs {
		printMessage(m)
	}

	updates, cancel := conv.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				fmt.Printf("!! %v\n", u.Err)
				continue
			}
			printMessage(u.Message)
		}
	}
}

func printMessage(m models.Message) {
	if m.ID == "" {
		return
	}
	body := m.Content
	if m.DeletedAt != nil {
		body = "(deleted)"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.SenderID, body)
}
