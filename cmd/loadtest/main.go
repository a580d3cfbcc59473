package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AbdullahHR10/ChatFlow/internal/db"
)

// Seeds a population of users and private conversations straight into the
// sqlite database, then opens websocket connections against a running
// server and floods send_message frames through the ingest pipeline.

const (
	numUsers       = 200
	conversations  = 100
	messagesPerSec = 5
	simulationTime = 30 * time.Second
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type seededPair struct {
	user1, user2   string
	token1, token2 string
	conversationID string
}

type Stats struct {
	sync.Mutex
	sent     int64
	received int64
	errors   int64
}

func (s *Stats) recordSent()     { s.Lock(); s.sent++; s.Unlock() }
func (s *Stats) recordReceived() { s.Lock(); s.received++; s.Unlock() }
func (s *Stats) recordError()    { s.Lock(); s.errors++; s.Unlock() }

func mintToken(secret, userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func seed(ctx context.Context, database *db.DB, secret string) ([]seededPair, error) {
	pairs := make([]seededPair, 0, conversations)
	for i := 0; i < conversations; i++ {
		u1, err := database.CreateUser(ctx, fmt.Sprintf("loadtest_user_%d_a", i), "testpass123", "")
		if err != nil {
			return nil, err
		}
		u2, err := database.CreateUser(ctx, fmt.Sprintf("loadtest_user_%d_b", i), "testpass123", "")
		if err != nil {
			return nil, err
		}
		conv, err := database.CreatePrivateConversation(ctx, u1.ID, u2.ID)
		if err != nil {
			return nil, err
		}

		t1, err := mintToken(secret, u1.ID)
		if err != nil {
			return nil, err
		}
		t2, err := mintToken(secret, u2.ID)
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, seededPair{
			user1: u1.ID, user2: u2.ID,
			token1: t1, token2: t2,
			conversationID: conv.ID,
		})
	}
	return pairs, nil
}

func connect(wsURL, token string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	return conn, err
}

func drain(conn *websocket.Conn, stats *Stats, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type == "new_message" {
			stats.recordReceived()
		}
	}
}

func main() {
	dbPath := flag.String("db", "data/chatflow.db", "path to the server's sqlite database")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "websocket endpoint")
	secret := flag.String("secret", "your-secret-key", "JWT secret shared with the server")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	database, err := db.NewDB(*dbPath, sugar)
	if err != nil {
		sugar.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	sugar.Infof("Seeding %d users across %d conversations", numUsers, conversations)
	pairs, err := seed(ctx, database, *secret)
	if err != nil {
		sugar.Fatalf("Seeding failed: %v", err)
	}

	stats := &Stats{}
	done := make(chan struct{})
	var wg sync.WaitGroup

	for _, pair := range pairs {
		sender, err := connect(*wsURL, pair.token1)
		if err != nil {
			sugar.Errorf("Failed to connect sender: %v", err)
			stats.recordError()
			continue
		}
		receiver, err := connect(*wsURL, pair.token2)
		if err != nil {
			sugar.Errorf("Failed to connect receiver: %v", err)
			sender.Close()
			stats.recordError()
			continue
		}

		go drain(receiver, stats, done)

		wg.Add(1)
		go func(conn *websocket.Conn, conversationID string) {
			defer wg.Done()
			defer conn.Close()
			ticker := time.NewTicker(time.Second / messagesPerSec)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					payload := map[string]interface{}{
						"conversation_id": conversationID,
						"message":         fmt.Sprintf("load message %d", rand.Int()),
					}
					if err := conn.WriteJSON(map[string]interface{}{
						"type":    "send_message",
						"payload": payload,
					}); err != nil {
						stats.recordError()
						return
					}
					stats.recordSent()
				}
			}
		}(sender, pair.conversationID)
	}

	sugar.Infof("Running for %s", simulationTime)
	time.Sleep(simulationTime)
	close(done)
	wg.Wait()

	stats.Lock()
	defer stats.Unlock()
	sugar.Infof("Sent: %d, received: %d, errors: %d", stats.sent, stats.received, stats.errors)
	sugar.Infof("Throughput: %.1f msg/s", float64(stats.sent)/simulationTime.Seconds())
}
