package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/metrics"
	"github.com/visionml/trainer/pkg/log"
)

// session owns one client connection and its log subscription.
type session struct {
	jobID        string
	conn         *websocket.Conn
	sub          logchan.Subscription
	pingInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession(parent context.Context, jobID string, conn *websocket.Conn, sub logchan.Subscription, pingInterval time.Duration) *session {
	ctx, cancel := context.WithCancel(parent)

	metrics.GatewaySessions.Inc()
	log.Info("log stream opened", "job_id", jobID, "remote", conn.RemoteAddr().String())

	return &session{
		jobID:        jobID,
		conn:         conn,
		sub:          sub,
		pingInterval: pingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// release closes the subscription and the connection. It runs its body
// exactly once no matter how many exit paths call it.
func (s *session) release() {
	s.once.Do(func() {
		s.cancel()
		if err := s.sub.Close(); err != nil {
			log.Warn("close log subscription", "job_id", s.jobID, "error", err)
		}
		s.conn.Close()
		metrics.GatewaySessions.Dec()
		log.Info("log stream closed", "job_id", s.jobID)
	})
}

// serve forwards matching envelopes until the client leaves, a write fails,
// the subscription ends or the gateway shuts down.
func (s *session) serve() {
	go s.read()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.close(websocket.CloseGoingAway, "")
			return
		case e, ok := <-s.sub.Envelopes():
			if !ok {
				log.Warn("log subscription ended, closing stream", "job_id", s.jobID, "error", s.sub.Err())
				s.close(websocket.CloseTryAgainLater, "log channel unavailable")
				return
			}
			if e.JobID != s.jobID {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(e.Text)); err != nil {
				log.Debug("log stream write failed", "job_id", s.jobID, "error", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("log stream ping failed", "job_id", s.jobID, "error", err)
				return
			}
		}
	}
}

// read drains client frames so control messages are processed, and ends the
// session when the client goes away or stops answering pings.
func (s *session) read() {
	defer s.cancel()

	pongWait := 2 * s.pingInterval
	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *session) close(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
