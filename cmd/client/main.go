package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/claudio-mas/SGDI-20-sub001/internal/collab"
	"github.com/claudio-mas/SGDI-20-sub001/internal/config"
	"github.com/claudio-mas/SGDI-20-sub001/internal/models"

	"github.com/google/uuid"
)

// Minimal terminal collaborator: joins a document session, prints what the
// other participants do, and sends stdin lines as chat messages. Stands in
// for the rendering layer, which only ever reads snapshots and issues
// commands.
func main() {
	documentID := flag.String("doc", "demo", "document id to join")
	name := flag.String("name", "terminal-user", "display name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	session, err := collab.NewSession(collab.Config{
		RelayURL:   cfg.RelayURL,
		DocumentID: *documentID,
		User: models.UserInfo{
			ID:   uuid.New().String(),
			Name: *name,
		},
		Role:                 models.RoleEditor,
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
		ReconnectInterval:    cfg.ReconnectInterval,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create session: %v", err)
	}

	snapshots := session.Subscribe()
	session.Connect()

	go func() {
		seenMessages := 0
		wasConnected := false
		for snap := range snapshots {
			if snap.IsConnected != wasConnected {
				wasConnected = snap.IsConnected
				if snap.IsConnected {
					fmt.Printf("* connected (%d participants)\n", len(snap.Participants))
				} else if snap.ConnectionError != "" {
					fmt.Printf("* disconnected: %s\n", snap.ConnectionError)
				} else {
					fmt.Println("* disconnected")
				}
			}
			for _, msg := range snap.Messages[seenMessages:] {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.UserName, msg.Content)
			}
			seenMessages = len(snap.Messages)
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			session.SendChatMessage(scanner.Text())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	session.Close()
	fmt.Println("bye")
}
