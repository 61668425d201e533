package chat

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators.
const (
	TypeMessageHistory  = "message_history"
	TypeChatMessage     = "chat_message"
	TypeEditMessage     = "edit_message"
	TypeDeleteMessage   = "delete_message"
	TypeTyping          = "typing"
	TypeReadReceipt     = "read_receipt"
	TypeOnlineStatus    = "online_status"
	TypeSendMessage     = "send_message"
	TypeGetOnlineStatus = "get_online_status"
)

// Outbound frames.

type historyRequest struct {
	Type       string `json:"type"`
	GroupID    int64  `json:"group_id,omitempty"`
	ReceiverID int64  `json:"receiver_id,omitempty"`
}

type typingNotice struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

type onlineStatusRequest struct {
	Type        string  `json:"type"`
	GroupID     int64   `json:"group_id,omitempty"`
	PersonalIDs []int64 `json:"personal_ids"`
}

type editRequest struct {
	Type       string `json:"type"`
	MessageID  int64  `json:"message_id"`
	NewContent string `json:"new_content"`
}

// OutgoingMessage is a message composed locally. MessageType defaults to "text".
type OutgoingMessage struct {
	MessageType string
	Content     string
	ParentID    int64
	Latitude    *float64
	Longitude   *float64
	Files       []string
}

type sendMessageFrame struct {
	Type        string   `json:"type"`
	MessageType string   `json:"message_type"`
	Content     string   `json:"content"`
	GroupID     int64    `json:"group_id,omitempty"`
	ReceiverID  int64    `json:"receiver_id,omitempty"`
	ParentID    *int64   `json:"parent_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Files       []string `json:"files"`
}

// target fills the group_id/receiver_id pair for chat.
func target(chat ActiveChat) (groupID, receiverID int64) {
	if chat.Kind == KindGroup {
		return chat.ID, 0
	}
	return 0, chat.ID
}

func newSendMessageFrame(chat ActiveChat, m OutgoingMessage) sendMessageFrame {
	groupID, receiverID := target(chat)
	f := sendMessageFrame{
		Type:        TypeSendMessage,
		MessageType: m.MessageType,
		Content:     m.Content,
		GroupID:     groupID,
		ReceiverID:  receiverID,
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		Files:       m.Files,
	}
	if f.MessageType == "" {
		f.MessageType = "text"
	}
	if f.Files == nil {
		f.Files = []string{}
	}
	if m.ParentID != 0 {
		parent := m.ParentID
		f.ParentID = &parent
	}
	return f
}

// Inbound frames.

type envelope struct {
	Type string `json:"type"`
}

type historyFrame struct {
	Messages []Message `json:"messages"`
}

type editFrame struct {
	ID         int64   `json:"id"`
	MessageID  int64   `json:"message_id"`
	Content    *string `json:"content"`
	NewContent *string `json:"new_content"`
}

func (f editFrame) target() int64 {
	if f.ID != 0 {
		return f.ID
	}
	return f.MessageID
}

func (f editFrame) content() (string, bool) {
	if f.Content != nil {
		return *f.Content, true
	}
	if f.NewContent != nil {
		return *f.NewContent, true
	}
	return "", false
}

type deleteFrame struct {
	ID        int64 `json:"id"`
	MessageID int64 `json:"message_id"`
}

func (f deleteFrame) target() int64 {
	if f.ID != 0 {
		return f.ID
	}
	return f.MessageID
}

// TypingUpdate is the payload of a typing frame.
type TypingUpdate struct {
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// ReadReceipt is the payload of a read_receipt frame.
type ReadReceipt struct {
	MessageID int64 `json:"message_id"`
	UserID    int64 `json:"user_id"`
}

type onlineFrame struct {
	GroupOnlineIDs    []int64 `json:"group_online_ids"`
	PersonalOnlineIDs []int64 `json:"personal_online_ids"`
}

// decodeChatMessage accepts both a flat frame carrying message fields and a
// frame wrapping them under "message".
func decodeChatMessage(data []byte) (Message, error) {
	var wrapped struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return Message{}, err
	}
	var m Message
	src := data
	if len(wrapped.Message) > 0 && wrapped.Message[0] == '{' {
		src = wrapped.Message
	}
	if err := json.Unmarshal(src, &m); err != nil {
		return Message{}, fmt.Errorf("decode chat_message: %w", err)
	}
	return m, nil
}
