package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"siteplan/internal/model"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// PlanEventsWSHandler streams a plan's events over a WebSocket. The first
// message is a plan.snapshot; the connection is closed after a terminal event.
func (s *Server) PlanEventsWSHandler(w http.ResponseWriter, r *http.Request, plan model.PlanOut) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(plan.ID)
	defer s.Broker.Unsubscribe(plan.ID, ch)

	// Reader: only control frames are expected; a read error means the client left.
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "plan finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}

	if cur, err := s.Store.GetPlan(r.Context(), plan.TenantID, plan.ID); err == nil {
		plan = cur
	}
	if err := write(snapshotEvent(plan)); err != nil {
		return
	}
	if model.Terminal(plan.Status) {
		closeNormal()
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				closeNormal()
				return
			}
			if err := write(evt); err != nil {
				s.Log.Debug("ws write failed", zap.String("plan_id", plan.ID), zap.Error(err))
				return
			}
			if terminalEvent(evt.Type) {
				closeNormal()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
