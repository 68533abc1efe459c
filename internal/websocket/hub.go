// Package websocket streams job progress to subscribed clients.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (should be restricted in production)
	},
}

// Client represents a WebSocket client subscribed to one job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
	Hub   *Hub
}

// Hub maintains active WebSocket connections keyed by job id.
type Hub struct {
	clients    map[*Client]bool
	jobClients map[string][]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *logrus.Logger
	mutex      sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		jobClients: make(map[string][]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub and handles client registration/unregistration.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.jobClients[client.JobID] = append(h.jobClients[client.JobID], client)
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"job_id":        client.JobID,
				"total_clients": len(h.clients),
			}).Info("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)

				jobClients := h.jobClients[client.JobID]
				for i, c := range jobClients {
					if c == client {
						h.jobClients[client.JobID] = append(jobClients[:i], jobClients[i+1:]...)
						break
					}
				}
				if len(h.jobClients[client.JobID]) == 0 {
					delete(h.jobClients, client.JobID)
				}
			}
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"job_id":        client.JobID,
				"total_clients": len(h.clients),
			}).Info("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// HandleWebSocket upgrades the connection and subscribes it to a job.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing job ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, 256),
		Hub:   h,
	}

	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastToJob sends a message to every connection watching one job.
func (h *Hub) BroadcastToJob(jobID string, message interface{}) {
	h.mutex.RLock()
	clients := h.jobClients[jobID]
	h.mutex.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}

	h.mutex.RLock()
	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			close(client.Send)
			delete(h.clients, client)
		}
	}
	h.mutex.RUnlock()
}

// BroadcastToAll sends a message to all connected clients.
func (h *Hub) BroadcastToAll(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}

	h.broadcast <- data
}

// GetConnectionCount returns the total number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.Hub.logger.WithError(err).Error("Failed to write WebSocket message")
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
