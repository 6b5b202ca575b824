// Command chatload opens many websocket subscribers on one chat room and
// posts messages into it, reporting how many updates reached the clients.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Metrics tracks the run results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	UpdatesReceived      int64
	Errors               int64
}

var metrics Metrics

var httpClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	host := flag.String("host", "localhost:8080", "API server host")
	loginID := flag.String("login", "", "Login id of the buyer account")
	password := flag.String("password", "Market1!", "Password of the buyer account")
	productID := flag.String("product", "", "Product to chat about (must not be the buyer's own)")
	clients := flag.Int("clients", 50, "Number of concurrent websocket subscribers")
	interval := flag.Duration("interval", time.Second, "Delay between posted messages")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	if *loginID == "" || *productID == "" {
		log.Fatal("-login and -product are required")
	}

	log.Printf("🚀 Starting chat load test")
	log.Printf("Target: %s", *host)
	log.Printf("Clients: %d", *clients)
	log.Printf("Duration: %v", *duration)

	token, err := login(*host, *loginID, *password)
	if err != nil {
		log.Fatalf("❌ Login failed: %v", err)
	}
	roomID, err := openRoom(*host, token, *productID)
	if err != nil {
		log.Fatalf("❌ Could not open chat room: %v", err)
	}
	log.Printf("✅ Logged in, room %s", roomID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, token, roomID, stopChan, &wg)
		time.Sleep(20 * time.Millisecond)
	}

	wg.Add(1)
	go runSender(*host, token, roomID, *interval, stopChan, &wg)

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func postJSON(host, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s%s", host, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed with status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func login(host, loginID, password string) (string, error) {
	var result struct {
		Token string `json:"token"`
	}
	err := postJSON(host, "/api/auth/login", "", map[string]string{
		"login_id": loginID,
		"password": password,
	}, &result)
	return result.Token, err
}

func openRoom(host, token, productID string) (string, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://%s/api/products/%s", host, url.PathEscape(productID)))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("product lookup failed with status %d", resp.StatusCode)
	}
	var detail struct {
		Product struct {
			SellerID string `json:"seller_id"`
		} `json:"product"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return "", err
	}

	var result struct {
		RoomID string `json:"room_id"`
	}
	err = postJSON(host, "/api/chats", token, map[string]string{
		"seller_id":  detail.Product.SellerID,
		"product_id": productID,
	}, &result)
	return result.RoomID, err
}

func runClient(host, token, roomID string, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws/chats/" + roomID, RawQuery: "token=" + url.QueryEscape(token)}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
			atomic.AddInt64(&metrics.UpdatesReceived, 1)
		}
	}()

	select {
	case <-stopChan:
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-readDone:
		atomic.AddInt64(&metrics.Errors, 1)
	}
}

// runSender posts through the REST API; clients only receive on the socket.
func runSender(host, token, roomID string, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			text := fmt.Sprintf("load test message %d", n)
			if err := postJSON(host, "/api/chats/"+roomID+"/messages", token, map[string]string{"text": text}, nil); err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				continue
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Updates Received: %d", atomic.LoadInt64(&metrics.UpdatesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
