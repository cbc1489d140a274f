package model

const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
	EventSendMessage = "sendMessage"
)

// Event is the realtime frame exchanged over the websocket in both directions.
type Event struct {
	Type        string   `json:"type"`
	OnlineUsers []string `json:"onlineUsers,omitempty"`
	Message     *Message `json:"message,omitempty"`
}
