// Package websocket - живой канал к клиенту: события сессии уходят вниз
// всем подключенным, аудио озвучки и кадры микрофона ходят через мост.
package websocket

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"tale-weaver/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // аудио-кадры микрофона бывают крупными
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Одиночный локальный оркестратор, происхождение не проверяем
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inbound - конверт входящего сообщения клиента.
type inbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data string `json:"data,omitempty"` // base64-аудио для audio_chunk
}

// outbound - конверт исходящего события.
type outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client - одно WebSocket-соединение.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub управляет активными соединениями и рассылает события сессии.
type Hub struct {
	log        *zap.Logger
	audio      *AudioBridge
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub создает и запускает хаб.
func NewHub(log *zap.Logger) *Hub {
	h := &Hub{
		log:        log.Named("WSHub"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
	}
	h.audio = newAudioBridge(h)
	go h.run()
	return h
}

// Audio возвращает мост воспроизведения/захвата для медиа-конвейеров.
func (h *Hub) Audio() *AudioBridge {
	return h.audio
}

func (h *Hub) run() {
	h.log.Info("Хаб соединений запущен")
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Info("Клиент подключен", zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("Клиент отключен", zap.Int("total", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Очередь клиента переполнена - отключаем его
					delete(h.clients, client)
					close(client.send)
					h.log.Warn("Очередь отправки переполнена, клиент отключен")
				}
			}
		}
	}
}

// Publish реализует session.Publisher. Не блокирует: при переполнении
// канала рассылки событие отбрасывается.
func (h *Hub) Publish(event session.Event) {
	h.send(event.Type, event.Payload)
}

func (h *Hub) send(eventType string, payload interface{}) {
	data, err := json.Marshal(outbound{Type: eventType, Payload: payload})
	if err != nil {
		h.log.Error("Не удалось сериализовать событие", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Канал рассылки переполнен, событие отброшено", zap.String("type", eventType))
	}
}

// ServeWS - gin-обработчик апгрейда соединения.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Не удалось выполнить апгрейд соединения", zap.Error(err))
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 32)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump читает сообщения клиента: подтверждения воспроизведения и
// кадры микрофона. Завершение читающей горутины дерегистрирует клиента.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("Соединение закрыто с ошибкой", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Debug("Нечитаемое сообщение клиента", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "audio_done":
			c.hub.audio.playbackDone(msg.ID)
		case "audio_chunk":
			chunk, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				c.hub.log.Debug("Битый аудио-кадр", zap.Error(err))
				continue
			}
			c.hub.audio.appendChunk(chunk)
		default:
			c.hub.log.Debug("Неизвестный тип сообщения", zap.String("type", msg.Type))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
