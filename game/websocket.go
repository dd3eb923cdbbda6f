package game

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WebsocketConnection struct {
	socket *websocket.Conn
}

func (wc *WebsocketConnection) Write(data []byte) error {
	return wc.socket.WriteMessage(websocket.TextMessage, data)
}

func (wc *WebsocketConnection) Ping() error {
	return wc.socket.WriteMessage(websocket.PingMessage, nil)
}

func (wc *WebsocketConnection) Read() ([]byte, error) {
	_, p, err := wc.socket.ReadMessage()
	return p, err
}

func (wc *WebsocketConnection) Close(errCode string) {
	wc.socket.SetWriteDeadline(time.Now().Add(time.Second * 20))
	wc.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, errCode))
	wc.socket.Close()
}

func NewWebsocketConnection(conn *websocket.Conn) WebsocketConnection {
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(time.Minute))
		return nil
	})
	return WebsocketConnection{conn}
}

const pingPeriod = 30 * time.Second

// RoomSocketHandler upgrades the request and streams full room snapshots
// until the subscription or the peer goes away. The client never sends
// anything meaningful over this socket; its read side only serves pong
// handling and close detection.
func (h *GameHandler) RoomSocketHandler(ctx *gin.Context) {
	code := ctx.Param("code")

	snapshots, unsubscribe, err := h.rooms.SubscribeRoom(ctx.Request.Context(), code)
	if err != nil {
		abortGameError(ctx, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		unsubscribe()
		slog.Error("WS upgrade failed", "room", code, "error", err.Error())
		return
	}

	socket := NewWebsocketConnection(conn)
	defer unsubscribe()

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, err := socket.Read(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	for {
		select {
		case room, ok := <-snapshots:
			if !ok {
				socket.Close("room-gone")
				return
			}
			payload, err := json.Marshal(room)
			if err != nil {
				slog.Error("room snapshot marshal failed", "room", code, "error", err.Error())
				continue
			}
			if err := socket.Write(payload); err != nil {
				socket.Close("write-failed")
				return
			}
		case <-pinger.C:
			if err := socket.Ping(); err != nil {
				socket.Close("ping-failed")
				return
			}
		case <-readerGone:
			socket.Close("client-gone")
			return
		}
	}
}
