// Package main runs a demo WebSocket client for plan events.
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

type planEvent struct {
	Type    string         `json:"type"`
	PlanID  string         `json:"planId"`
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload,omitempty"`
}

// demoRequest is a small Chicago snapshot: two close zones that cannot both
// get a new site, plus one existing facility that can expand.
const demoRequest = `{
  "name": "ws demo",
  "zones": [
    {"id": "60601", "capacityGap": 150, "under5Gap": 40, "location": {"lat": 41.8858, "lng": -87.6181}},
    {"id": "60602", "capacityGap": 80,  "under5Gap": 20, "location": {"lat": 41.8829, "lng": -87.6291}},
    {"id": "60611", "capacityGap": 260, "under5Gap": 90, "location": {"lat": 41.8940, "lng": -87.6200}}
  ],
  "facilities": [{"zoneId": "60602", "originalCapacity": 400}]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/plans?async=true", bytes.NewReader([]byte(demoRequest)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("submit: unexpected status %s", resp.Status)
	}
	var plan struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		log.Fatal(err)
	}
	log.Printf("Plan ID: %s (%s)", plan.ID, plan.Status)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/" + plan.ID + "/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt planEvent
			if err := c.ReadJSON(&evt); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("read: %v", err)
				}
				return
			}
			b, _ := json.Marshal(evt.Payload)
			log.Printf("WS <- %s: %s", evt.Type, b)
		}
	}()

	select {
	case <-time.After(30 * time.Second):
		log.Print("timed out waiting for the plan to finish")
	case <-done:
	}
}
