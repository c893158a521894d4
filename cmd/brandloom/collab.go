package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	brandloom "github.com/Brandloom-AI/Brandloom/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// collab watch
	collabWatchRoomType string
	collabWatchJSON     bool

	// collab send
	collabSendRoomType string
)

func init() {
	rootCmd.AddCommand(collabCmd)
	collabCmd.AddCommand(collabWatchCmd)
	collabCmd.AddCommand(collabSendCmd)

	collabWatchCmd.Flags().StringVar(&collabWatchRoomType, "type", "campaign", "Room type (campaign, document, team)")
	collabWatchCmd.Flags().BoolVar(&collabWatchJSON, "json", false, "Print raw event payloads as JSON")
	collabSendCmd.Flags().StringVar(&collabSendRoomType, "type", "campaign", "Room type (campaign, document, team)")
}

// ============================================================================
// Root collab command
// ============================================================================

var collabCmd = &cobra.Command{
	Use:   "collab",
	Short: "Realtime collaboration commands",
	Long:  "Join Brandloom collaboration rooms: watch live activity or send chat messages.",
}

// ============================================================================
// Shared session setup
// ============================================================================

// openSession connects, authenticates, and joins the given room.
// The returned client is ready for realtime traffic.
func openSession(ctx context.Context, roomID, roomType string) (*brandloom.RealtimeClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	user := getCollabIdentity(cfg)

	baseURL := cfg.Default.BaseURL
	if baseURL == "" {
		baseURL = brandloom.DefaultBaseURL
	}

	rc := brandloom.NewRealtimeClient(baseURL, brandloom.WithRealtimeConfig(brandloom.RealtimeConfig{
		Token: user.Token,
	}))

	authed := make(chan struct{}, 1)
	off := rc.On(brandloom.EventAuthenticated, func(event string, payload json.RawMessage) {
		select {
		case authed <- struct{}{}:
		default:
		}
	})
	defer off()

	if err := rc.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	if err := rc.Authenticate(ctx, user); err != nil {
		rc.Disconnect()
		return nil, fmt.Errorf("authenticate failed: %w", err)
	}

	select {
	case <-authed:
	case <-time.After(10 * time.Second):
		rc.Disconnect()
		return nil, fmt.Errorf("timed out waiting for authentication ack (last error: %s)", rc.LastError())
	case <-ctx.Done():
		rc.Disconnect()
		return nil, ctx.Err()
	}

	if err := rc.JoinRoom(ctx, brandloom.RoomInfo{
		RoomID:   roomID,
		RoomType: roomType,
		TargetID: roomID,
	}); err != nil {
		rc.Disconnect()
		return nil, fmt.Errorf("join room failed: %w", err)
	}
	return rc, nil
}

// ============================================================================
// collab watch
// ============================================================================

var collabWatchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Stream live activity from a collaboration room",
	Long:  "Connect to the realtime gateway, join the given room, and print chat, presence, and typing activity until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		rc, err := openSession(ctx, roomID, collabWatchRoomType)
		if err != nil {
			return err
		}
		defer rc.Disconnect()

		printEvent := func(event string, payload json.RawMessage) {
			if collabWatchJSON {
				fmt.Printf("{\"event\":%q,\"payload\":%s}\n", event, string(payload))
				return
			}
			switch event {
			case brandloom.EventNewMessage:
				var msg struct {
					Username string `json:"username"`
					Content  string `json:"content"`
				}
				if json.Unmarshal(payload, &msg) == nil {
					fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), msg.Username, msg.Content)
				}
			case brandloom.EventUserJoinedRoom:
				var p brandloom.RoomMemberPayload
				if json.Unmarshal(payload, &p) == nil {
					fmt.Printf("* %s joined\n", p.Username)
				}
			case brandloom.EventUserLeftRoom:
				var p brandloom.RoomMemberPayload
				if json.Unmarshal(payload, &p) == nil {
					fmt.Printf("* %s left\n", p.Username)
				}
			case brandloom.EventTypingIndicator:
				var p brandloom.TypingIndicatorPayload
				if json.Unmarshal(payload, &p) == nil && p.IsTyping {
					fmt.Printf("* %s is typing...\n", p.Username)
				}
			case brandloom.EventReconnecting:
				var p brandloom.ReconnectingPayload
				if json.Unmarshal(payload, &p) == nil {
					fmt.Fprintf(os.Stderr, "reconnecting (attempt %d, in %s)\n", p.Attempt, p.Delay)
				}
			}
		}

		for _, event := range []string{
			brandloom.EventNewMessage,
			brandloom.EventUserJoinedRoom,
			brandloom.EventUserLeftRoom,
			brandloom.EventTypingIndicator,
			brandloom.EventReconnecting,
		} {
			defer rc.On(event, printEvent)()
		}

		fmt.Printf("Watching room %s. Press Ctrl-C to stop.\n", roomID)
		<-ctx.Done()
		fmt.Println("\nDisconnecting.")
		return nil
	},
}

// ============================================================================
// collab send
// ============================================================================

var collabSendCmd = &cobra.Command{
	Use:   "send <room-id> <message>",
	Short: "Send a chat message to a collaboration room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, content := args[0], args[1]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rc, err := openSession(ctx, roomID, collabSendRoomType)
		if err != nil {
			return err
		}
		defer rc.Disconnect()

		if err := rc.SendMessage(ctx, brandloom.OutgoingMessage{
			RoomID:  roomID,
			Type:    "text",
			Content: content,
		}); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to %s\n", roomID)
		return nil
	},
}
