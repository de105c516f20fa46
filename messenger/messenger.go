package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/reactive"
)

const (
	hubInnerChannelsBufferSize      = 100
	socketWriteWait                 = 10 * time.Second
	socketPongWait                  = 60 * time.Second
	socketPingPeriod                = (socketPongWait * 4) / 5
	socketMaxMessageSize            = 64 * 1024
	clientMessageChannelsBufferSize = 64
	pendingPerDeviceLimit           = 64
	observersBufferSize             = 256
	devicesCountLimit               = 10000
)

const (
	CommandPair = "pair" // CommandPair is sent by the device once it paired with the bot.
	CommandText = "text" // CommandText carries the text typed by the user or sent by the bot.
)

// DeviceHeader is the header carrying the device address of the connecting socket.
const DeviceHeader = "Device"

// Message is the message exchanged between the bot and the device.
type Message struct {
	Command string `json:"command"`
	Device  string `json:"device,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Inbound receives messages sent by devices.
type Inbound interface {
	Paired(ctx context.Context, deviceAddress string)
	Text(ctx context.Context, deviceAddress, text string)
}

type socket struct {
	device string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
}

// Hub keeps device sockets and routes texts to them.
// Texts for a device that is not connected are kept until it connects.
type Hub struct {
	clients    map[string]*socket
	pending    map[string][][]byte
	outbound   chan Message
	register   chan *socket
	unregister chan *socket
	inbound    Inbound
	observers  *reactive.Observable[Message]
	log        logger.Logger
}

// New creates a new Hub. Call Run to start routing.
func New(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*socket, hubInnerChannelsBufferSize),
		pending:    make(map[string][][]byte),
		outbound:   make(chan Message, hubInnerChannelsBufferSize),
		register:   make(chan *socket, hubInnerChannelsBufferSize),
		unregister: make(chan *socket, hubInnerChannelsBufferSize),
		observers:  reactive.New[Message](observersBufferSize),
		log:        log,
	}
}

// SetInbound sets the receiver of device messages. It must be called before Run.
func (h *Hub) SetInbound(in Inbound) {
	h.inbound = in
}

// Observe subscribes to all texts sent to devices.
func (h *Hub) Observe() *reactive.Subscriber[Message] {
	return h.observers.Subscribe()
}

// SendText sends text to the device. A slow or missing device never blocks the caller,
// only a full hub queue does.
func (h *Hub) SendText(deviceAddress, text string) {
	msg := Message{Command: CommandText, Device: deviceAddress, Text: text}
	h.observers.Offer(msg)
	h.outbound <- msg
}

// Run routes messages until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			if _, ok := h.clients[client.device]; !ok && len(h.clients) >= devicesCountLimit {
				h.log.Warn(fmt.Sprintf("hub, max number of devices reached, device %s rejected", client.device))
				close(client.send)
				continue
			}
			if old, ok := h.clients[client.device]; ok && old != client {
				close(old.send)
			}
			h.clients[client.device] = client
			for _, raw := range h.pending[client.device] {
				h.deliver(client, raw)
			}
			delete(h.pending, client.device)
		case client := <-h.unregister:
			if current, ok := h.clients[client.device]; ok && current == client {
				delete(h.clients, client.device)
				close(client.send)
			}
		case msg := <-h.outbound:
			raw, err := json.Marshal(&msg)
			if err != nil {
				h.log.Error(fmt.Sprintf("hub failed to marshal message: %s", err))
				continue
			}
			client, ok := h.clients[msg.Device]
			if !ok {
				h.keep(msg.Device, raw)
				continue
			}
			h.deliver(client, raw)
		case <-ctx.Done():
			for device, client := range h.clients {
				delete(h.clients, device)
				close(client.send)
			}
			return
		}
	}
}

func (h *Hub) deliver(client *socket, raw []byte) {
	select {
	case client.send <- raw:
	default:
		h.log.Warn(fmt.Sprintf("hub, device %s is too slow, message kept for the next connection", client.device))
		h.keep(client.device, raw)
	}
}

func (h *Hub) keep(device string, raw []byte) {
	p := h.pending[device]
	if len(p) >= pendingPerDeviceLimit {
		h.log.Warn(fmt.Sprintf("hub, pending messages limit reached for device %s, dropping the oldest", device))
		p = p[1:]
	}
	h.pending[device] = append(p, raw)
}

// Handler upgrades the request to the device websocket.
// The device address is taken from the Device header.
func (h *Hub) Handler(ctx context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		device := c.Get(DeviceHeader)
		if device == "" {
			h.log.Error(fmt.Sprintf("websocket server, no device address provided from ip: %s", c.IP()))
			return fiber.ErrForbidden
		}

		serveWs := func(conn *websocket.Conn) {
			client := &socket{
				device: device,
				hub:    h,
				conn:   conn,
				send:   make(chan []byte, clientMessageChannelsBufferSize),
			}
			ctxx, cancel := context.WithCancel(ctx)
			defer cancel()
			h.register <- client
			go client.writePump(ctxx, cancel)
			client.readPump(ctxx, cancel)
		}
		h.log.Info(fmt.Sprintf("websocket server, new connection from device %s accepted", device))

		return websocket.New(serveWs)(c)
	}
}

func (c *socket) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.hub.unregister <- c
	}()
	c.conn.SetReadLimit(socketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(socketPongWait)); return nil })

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			switch {
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				c.hub.log.Info(fmt.Sprintf("socket closing connection to the device %s due to unexpected error %s", c.device, err))
			default:
				c.hub.log.Debug(fmt.Sprintf("socket closing connection to the device %s: %s", c.device, err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.hub.process(ctx, c.device, &msg)
	}
}

func (c *socket) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bot stopped"))
			return
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.hub.log.Error(fmt.Sprintf("socket closing connection to the device %s due to %s", c.device, err))
				cancel()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.log.Error(fmt.Sprintf("socket closing connection to the device %s due to %s", c.device, err))
				cancel()
				return
			}
		}
	}
}

func (h *Hub) process(ctx context.Context, device string, msg *Message) {
	if h.inbound == nil {
		return
	}
	switch msg.Command {
	case CommandPair:
		h.inbound.Paired(ctx, device)
	case CommandText:
		h.inbound.Text(ctx, device, msg.Text)
	default:
		h.log.Info(fmt.Sprintf("socket received unknown command %s from device %s", msg.Command, device))
	}
}
