package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // ⚠️ Start small. Database might choke on 500 pairs immediately.
	MsgCount  = 20 // Messages per user; more than the rate limit allows on purpose.
)

var (
	sentOK      atomic.Int64
	rateLimited atomic.Int64
	otherErrors atomic.Int64
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// We will create pairs: User 0a talks to User 0b, 1a to 1b...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Printf("✅ LOAD TEST COMPLETE: %d acked, %d rate-limited, %d other errors",
		sentOK.Load(), rateLimited.Load(), otherErrors.Load())
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA, idA := authenticate(userA, pass)
	tokenB, idB := authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return // Failed auth
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, tokenA, idB, userA)
	go spamChat(&wsWg, tokenB, idA, userB)
	wsWg.Wait()
}

// authenticate registers (ignoring "already taken") and logs in. Login
// returns the user id directly.
func authenticate(username, password string) (string, int) {
	postJSON("/register", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return "", 0
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func spamChat(wg *sync.WaitGroup, token string, peerID int, user string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, token), nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	// Drain the server's replies so our send buffer over there never
	// fills up, and tally what came back. The server batches queued
	// frames into one websocket message with newline separators.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			for _, part := range bytes.Split(raw, []byte{'\n'}) {
				var env envelope
				if json.Unmarshal(part, &env) != nil {
					continue
				}
				switch env.Event {
				case "message-sent":
					sentOK.Add(1)
				case "message-error":
					var payload struct {
						Error struct {
							Code string `json:"code"`
						} `json:"error"`
					}
					json.Unmarshal(env.Data, &payload)
					if payload.Error.Code == "rate_limited" {
						rateLimited.Add(1)
					} else {
						otherErrors.Add(1)
					}
				}
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		data, _ := json.Marshal(map[string]any{
			"recipient_id": peerID,
			"content":      fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		})
		frame, _ := json.Marshal(envelope{Event: "send-message", Data: data})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			break
		}
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	// Give in-flight replies a moment to land before hanging up.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	log.Printf("✅ %s finished sending %d msgs", user, MsgCount)
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
