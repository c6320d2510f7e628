package devbackend

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suPer8Hu/neko-client/internal/auth"
	"github.com/suPer8Hu/neko-client/internal/models"
	"github.com/suPer8Hu/neko-client/internal/ws"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsConn struct {
	userID string
	send   chan ws.Envelope
}

// hub fans persisted messages out to every socket of the owning user.
type hub struct {
	mu    sync.Mutex
	conns map[string]map[*wsConn]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[string]map[*wsConn]struct{})}
}

func (h *hub) add(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.userID]
	if set == nil {
		set = make(map[*wsConn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *hub) remove(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.userID]
	if _, found := set[c]; !found {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
	close(c.send)
}

// broadcast never blocks; a socket whose buffer is full misses the envelope.
func (h *hub) broadcast(userID string, env ws.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[userID] {
		select {
		case c.send <- env:
		default:
		}
	}
}

func (h *hub) publish(userID string, m models.Message) {
	env, err := ws.NewEnvelope(ws.TypeChatUpdate, m)
	if err != nil {
		return
	}
	h.broadcast(userID, env)
}

// reply queues env for this socket only.
func (h *hub) reply(c *wsConn, env ws.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.conns[c.userID][c]; !live {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

type wsChatMessage struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

type wsTyping struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
}

// serveWS authenticates with the token query parameter and then serves the
// envelope protocol until the peer goes away.
func (s *Server) serveWS(c *gin.Context) {
	uid, err := auth.ParseJWT(c.Query("token"), s.cfg.JWTSecret)
	if err != nil {
		fail(c, http.StatusUnauthorized, 40101, "invalid token")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	wc := &wsConn{userID: uid, send: make(chan ws.Envelope, wsSendBuffer)}
	s.hub.add(wc)
	s.logger.Debug().Str("user_id", uid).Msg("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range wc.send {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}()

	s.readSocket(c, conn, wc)

	s.hub.remove(wc)
	_ = conn.Close()
	<-done
	s.logger.Debug().Str("user_id", uid).Msg("websocket closed")
}

func (s *Server) readSocket(c *gin.Context, conn *websocket.Conn, wc *wsConn) {
	ctx := c.Request.Context()
	for {
		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case ws.TypeAuth:
			var data struct {
				Token string `json:"token"`
			}
			_ = json.Unmarshal(env.Data, &data)
			if uid, err := auth.ParseJWT(data.Token, s.cfg.JWTSecret); err != nil || uid != wc.userID {
				s.hub.reply(wc, errorEnvelope(ws.TypeAuthError, "authentication failed"))
				continue
			}
			ack, _ := ws.NewEnvelope(ws.TypeAuthSuccess, nil)
			s.hub.reply(wc, ack)

		case ws.TypePing:
			pong, _ := ws.NewEnvelope(ws.TypePong, nil)
			s.hub.reply(wc, pong)

		case ws.TypePong:
			// heartbeat answer, nothing to do

		case ws.TypeChatMessage:
			var data wsChatMessage
			if err := json.Unmarshal(env.Data, &data); err != nil || strings.TrimSpace(data.Content) == "" {
				s.hub.reply(wc, errorEnvelope(ws.TypeError, "invalid chat message"))
				continue
			}
			if _, err := s.repo.Chat(ctx, wc.userID, data.ChatID); err != nil {
				s.hub.reply(wc, errorEnvelope(ws.TypeError, "chat not found"))
				continue
			}
			m, err := s.repo.InsertMessage(ctx, data.ChatID, models.RoleUser, data.Content)
			if err != nil {
				s.hub.reply(wc, errorEnvelope(ws.TypeError, "failed to save message"))
				continue
			}
			s.hub.publish(wc.userID, m.model())

		case ws.TypeTypingStart, ws.TypeTypingStop:
			var data wsTyping
			_ = json.Unmarshal(env.Data, &data)
			data.UserID = wc.userID
			out, _ := ws.NewEnvelope(env.Type, data)
			s.hub.broadcast(wc.userID, out)

		default:
			s.hub.reply(wc, errorEnvelope(ws.TypeError, "unknown message type "+string(env.Type)))
		}
	}
}

func errorEnvelope(t ws.MessageType, msg string) ws.Envelope {
	env, _ := ws.NewEnvelope(t, map[string]string{"message": msg})
	return env
}
