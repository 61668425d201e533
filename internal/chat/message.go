package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is one chat message as delivered by the backend.
type Message struct {
	ID             int64     `json:"id"`
	Sender         int64     `json:"sender"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Receiver       int64     `json:"receiver,omitempty"`
	Group          int64     `json:"group,omitempty"`
	GroupName      string    `json:"group_name,omitempty"`
	Content        string    `json:"content"`
	Parent         int64     `json:"parent,omitempty"`
	MessageType    string    `json:"message_type,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Files          []string  `json:"files,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IsEdited       bool      `json:"is_edited"`
	IsDeleted      bool      `json:"is_deleted"`
	IsRead         bool      `json:"is_read"`
}

// UnmarshalJSON tolerates an empty or missing timestamp and a sender given
// as an object ({"id":..,"username":..}) instead of an id.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		plain
		Sender    json.RawMessage `json:"sender"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)

	if len(raw.Sender) > 0 && string(raw.Sender) != "null" {
		if raw.Sender[0] == '{' {
			var s struct {
				ID       int64  `json:"id"`
				Username string `json:"username"`
			}
			if err := json.Unmarshal(raw.Sender, &s); err != nil {
				return fmt.Errorf("sender: %w", err)
			}
			m.Sender = s.ID
			if m.SenderUsername == "" {
				m.SenderUsername = s.Username
			}
		} else if err := json.Unmarshal(raw.Sender, &m.Sender); err != nil {
			return fmt.Errorf("sender: %w", err)
		}
	}

	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		m.Timestamp = ts
	}
	return nil
}

// Kind distinguishes group conversations from one-to-one threads.
type Kind string

const (
	KindGroup    Kind = "group"
	KindPersonal Kind = "personal"
)

// ActiveChat identifies the conversation currently open.
type ActiveChat struct {
	Kind Kind
	ID   int64
	Name string
}

// GroupChat returns the ActiveChat for a group.
func GroupChat(id int64, name string) ActiveChat {
	return ActiveChat{Kind: KindGroup, ID: id, Name: name}
}

// PersonalChat returns the ActiveChat for a one-to-one thread with userID.
func PersonalChat(userID int64, name string) ActiveChat {
	return ActiveChat{Kind: KindPersonal, ID: userID, Name: name}
}

var ErrInvalidChat = errors.New("invalid chat")

// Validate checks the kind and id.
func (c ActiveChat) Validate() error {
	if c.Kind != KindGroup && c.Kind != KindPersonal {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChat, c.Kind)
	}
	if c.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidChat)
	}
	return nil
}

func (c ActiveChat) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s/%d (%s)", c.Kind, c.ID, c.Name)
	}
	return fmt.Sprintf("%s/%d", c.Kind, c.ID)
}

// socketPath is the chat endpoint path relative to the socket host.
func (c ActiveChat) socketPath() string {
	if c.Kind == KindPersonal {
		return fmt.Sprintf("/ws/chat/personal/%d/", c.ID)
	}
	return fmt.Sprintf("/ws/chat/%d/", c.ID)
}
