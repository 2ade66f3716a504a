package types

// Broadcast is one message pushed to connected websocket clients.
type Broadcast struct {
	MessageType string      `json:"message_type"`
	Data        interface{} `json:"data"`
}
