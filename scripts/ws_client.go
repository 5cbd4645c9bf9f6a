// Package main runs a demo WebSocket client for service events. It connects
// to /v1/events/ws, triggers an allocation and a route for the new batch,
// and prints what arrives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	batches := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			b, _ := json.Marshal(m.Data)
			log.Printf("WS <- %s: %s", m.Type, b)
			if id, ok := m.Data["batchId"].(string); ok && m.Type == "allocation.completed" {
				batches <- id
			}
		}
	}()

	post(base+"/v1/allocations", nil)
	select {
	case id := <-batches:
		post(base+"/v1/routes", map[string]any{"batchId": id})
	case <-time.After(2 * time.Second):
		log.Print("no allocation event; is inventory seeded?")
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func post(u string, body any) {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("POST %s: %v", u, err)
		return
	}
	_ = resp.Body.Close()
	log.Printf("POST %s -> %d", u, resp.StatusCode)
}
