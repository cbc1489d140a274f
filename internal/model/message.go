package model

import "time"

type (
	// Message is the stored record. Text and Image hold SealedPayload
	// strings and are never interpreted by the relay.
	Message struct {
		ID          string    `json:"id" bson:"_id"`
		SenderID    string    `json:"senderId" bson:"senderId"`
		RecipientID string    `json:"recipientId" bson:"recipientId"`
		Text        string    `json:"text,omitempty" bson:"text,omitempty"`
		Image       string    `json:"image,omitempty" bson:"image,omitempty"`
		Seen        bool      `json:"seen" bson:"seen"`
		CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	}

	SendRequest struct {
		Text  string `json:"text,omitempty"`
		Image string `json:"image,omitempty"`
	}

	SendResponse struct {
		NewMessage *Message `json:"newMessage"`
	}

	MessagesResponse struct {
		Messages []Message `json:"messages"`
	}
)

// Counterpart returns the other party of m as seen by userID.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}
