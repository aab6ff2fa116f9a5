package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/host"
)

// Applier applies one change and reports its outcome.
type Applier interface {
	Apply(ctx context.Context, ev protocol.ChangeEvent) (protocol.ChangeResult, error)
}

// Server is the change stream: clients send PUSH and PLACE messages and get
// one ACK or ERROR per message, in order.
type Server struct {
	host Applier
	log  *log.Logger

	// ApplyTimeout bounds how long one message may wait for its step.
	ApplyTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewServer(h Applier, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		host:         h,
		log:          logger,
		ApplyTimeout: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(ctx, msg)
			if err := writeJSON(conn, reply); err != nil {
				break
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

func (s *Server) handle(ctx context.Context, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		return errorMsg(protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	ev, err := protocol.ValidateChangeEvent(msg)
	if err != nil {
		return errorMsg(protocol.ErrBadRequest, err.Error())
	}

	actx, cancel := context.WithTimeout(ctx, s.ApplyTimeout)
	defer cancel()
	res, err := s.host.Apply(actx, ev)
	if err != nil {
		code := host.ErrorCode(err)
		if code == protocol.ErrInternal {
			s.log.Printf("apply %s: %v", ev.Type, err)
		}
		return errorMsg(code, err.Error())
	}
	return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, Result: res}
}

func errorMsg(code, message string) protocol.ErrorEventMsg {
	return protocol.ErrorEventMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
