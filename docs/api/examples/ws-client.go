// Overseer WebSocket client example.
//
// Demonstrates:
// - Reading the daemon's bound port from $OVERSEER_HOME/var/ws.port
// - Subscribing to the event feed over JSON-RPC
// - Handling pushed event notifications and the dropped-frame flag
//
// Usage:
//   go run ws-client.go [session-id]
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type eventNotification struct {
	SubscriptionID int64 `json:"subscription_id"`
	Dropped        bool  `json:"dropped"`
	Event          struct {
		Seq       int64           `json:"seq"`
		Type      string          `json:"type"`
		SessionID string          `json:"session_id"`
		Payload   json.RawMessage `json:"payload"`
	} `json:"event"`
}

func overseerHome() string {
	if home := os.Getenv("OVERSEER_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("resolve home: %v", err)
	}
	return filepath.Join(userHome, ".overseer")
}

func main() {
	sessionID := ""
	if len(os.Args) > 1 {
		sessionID = os.Args[1]
	}

	portData, err := os.ReadFile(filepath.Join(overseerHome(), "var", "ws.port"))
	if err != nil {
		log.Fatalf("read ws.port (is the daemon running?): %v", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(portData)))
	if err != nil {
		log.Fatalf("parse ws.port: %v", err)
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	// Subscribe. An empty session_id receives events for all sessions.
	sub := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "subscribe",
		Params:  map[string]string{"session_id": sessionID},
	}
	if err := conn.WriteJSON(sub); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	// Close the connection on Ctrl-C so ReadMessage unblocks.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	var lastSeq int64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("connection closed: %v", err)
			return
		}

		var frame jsonRPCFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			log.Fatalf("rpc error %d: %s", frame.Error.Code, frame.Error.Message)
		}
		if frame.Method != "event" {
			fmt.Printf("subscribed: %s\n", frame.Result)
			continue
		}

		var note eventNotification
		if err := json.Unmarshal(frame.Params, &note); err != nil {
			continue
		}
		if note.Dropped {
			// Frames were lost; replay the journal from lastSeq with the
			// events.since RPC on the unix socket.
			fmt.Printf("!! gap after seq %d, replay with events.since\n", lastSeq)
		}
		lastSeq = note.Event.Seq
		fmt.Printf("#%d %s %s %s\n",
			note.Event.Seq, note.Event.Type, note.Event.SessionID, note.Event.Payload)
	}
}
