package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
	"github.com/pengcunfu/YushuRobotPPT2IMG/stream"
)

// wsRequest is a client-to-server WebSocket frame.
type wsRequest struct {
	Action string `json:"action"`
	JobID  string `json:"job_id"`
}

// wsControl is a server-to-client control frame. Lifecycle events are
// sent as stream.Event JSON and share the "type" discriminator.
type wsControl struct {
	Type    string   `json:"type"`
	Message string   `json:"message,omitempty"`
	JobID   string   `json:"job_id,omitempty"`
	Job     *job.Job `json:"job,omitempty"`
}

// wsConn is one upgraded WebSocket connection with its stream
// subscriber.
type wsConn struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	wc := &wsConn{
		id:     uuid.NewString(),
		conn:   conn,
		logger: s.logger,
	}
	go s.serveWS(wc)
}

// serveWS owns one connection: a subscriber pump pushes stream events
// to the client while the read loop handles subscribe/unsubscribe/
// status requests.
func (s *Server) serveWS(wc *wsConn) {
	broker := s.eng.Broker()
	sub := broker.Subscribe(wc.id)

	defer func() {
		broker.RemoveSubscriber(wc.id)
		_ = wc.conn.Close()
		s.logger.Debug("websocket closed", slog.String("conn_id", wc.id))
	}()

	s.logger.Debug("websocket connected", slog.String("conn_id", wc.id))
	if err := wc.writeJSON(wsControl{Type: "connected", Message: "connected to conversion service"}); err != nil {
		return
	}

	// Pump subscribed events to the client until the subscriber closes.
	// Each event written to the socket returns its credit, so only a
	// connection that stops draining runs out of budget.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for evt := range sub.C() {
			if err := wc.writeJSON(evt); err != nil {
				return
			}
			sub.AddCredits(1)
		}
	}()

	for {
		data, op, err := wsutil.ReadClientData(wc.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = wc.writeJSON(wsControl{Type: "error", Message: "invalid request frame"})
			continue
		}
		s.handleWSRequest(wc, req)
	}
}

func (s *Server) handleWSRequest(wc *wsConn, req wsRequest) {
	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		_ = wc.writeJSON(wsControl{Type: "error", Message: "invalid job_id", JobID: req.JobID})
		return
	}

	switch req.Action {
	case "subscribe":
		snap, err := s.eng.Job(context.Background(), jobID)
		if err != nil {
			_ = wc.writeJSON(wsControl{Type: "error", Message: "job not found", JobID: req.JobID})
			return
		}
		s.eng.Broker().SubscribeTo(wc.id, stream.JobTopic(jobID.String()))
		_ = wc.writeJSON(wsControl{Type: "snapshot", JobID: req.JobID, Job: snap})

	case "unsubscribe":
		s.eng.Broker().Unsubscribe(wc.id, stream.JobTopic(jobID.String()))
		_ = wc.writeJSON(wsControl{Type: "unsubscribed", JobID: req.JobID})

	case "status":
		snap, err := s.eng.Job(context.Background(), jobID)
		if err != nil {
			_ = wc.writeJSON(wsControl{Type: "error", Message: "job not found", JobID: req.JobID})
			return
		}
		_ = wc.writeJSON(wsControl{Type: "snapshot", JobID: req.JobID, Job: snap})

	default:
		_ = wc.writeJSON(wsControl{Type: "error", Message: "unknown action"})
	}
}
