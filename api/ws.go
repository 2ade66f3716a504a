package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cristianemoyano/cloudnap/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow any origin for WebSocket connections
	},
}

func (api *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger.Error().Err(err).Msg("Error upgrading connection")
		return
	}
	api.logger.Info().Msgf("Client connected: %s", conn.RemoteAddr())

	api.wsMu.Lock()
	api.wsClients[conn] = struct{}{}
	api.wsMu.Unlock()

	api.sendClusterSnapshot(conn)

	go api.drainClientMessages(conn)
}

// manageConnections fans action events out to every connected client.
func (api *Server) manageConnections() {
	defer api.wg.Done()

	for {
		select {
		case <-api.shutdownCh:
			api.closeAllClients()
			return
		case broadcast := <-api.broadcast:
			jsonData, err := json.Marshal(broadcast)
			if err != nil {
				api.logger.Error().Err(err).Msg("Error marshaling Broadcast")
				continue
			}
			api.wsMu.Lock()
			for conn := range api.wsClients {
				api.sendData(jsonData, conn)
			}
			api.wsMu.Unlock()
		}
	}
}

// sendClusterSnapshot pushes the current cluster views right after connect, so
// a client does not have to wait for the next action event.
func (api *Server) sendClusterSnapshot(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	views := api.orch.ListClusterStatuses(ctx, false)
	jsonData, err := json.Marshal(types.Broadcast{MessageType: "clusters", Data: views})
	if err != nil {
		api.logger.Error().Err(err).Msg("Error marshaling cluster snapshot")
		return
	}
	api.wsMu.Lock()
	api.sendData(jsonData, conn)
	api.wsMu.Unlock()
}

// sendData writes to one client; callers hold wsMu. A failed write drops the
// client.
func (api *Server) sendData(jsonData []byte, conn *websocket.Conn) {
	if err := conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
		api.logger.Error().Err(err).Msg("Failed to write message")
		if err := conn.Close(); err != nil {
			api.logger.Error().Err(err).Msg("Failed to close connection")
		}
		delete(api.wsClients, conn)
	}
}

// drainClientMessages keeps the read side alive so close frames are seen. The
// feed is one-way; inbound payloads are discarded.
func (api *Server) drainClientMessages(conn *websocket.Conn) {
	defer func() {
		api.wsMu.Lock()
		delete(api.wsClients, conn)
		api.wsMu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				api.logger.Error().Err(err).Msg("Error reading WebSocket message")
			}
			return
		}
	}
}

func (api *Server) closeAllClients() {
	api.wsMu.Lock()
	defer api.wsMu.Unlock()
	for conn := range api.wsClients {
		if err := conn.Close(); err != nil {
			api.logger.Error().Err(err).Msg("Error closing connection")
		}
		delete(api.wsClients, conn)
	}
}
