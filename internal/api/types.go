package api

import (
	"path/filepath"
	"time"

	"github.com/dgnsrekt/streamtts/internal/message"
	"github.com/dgnsrekt/streamtts/internal/queue"
)

// AudioPrefix is the URL path audio artifacts are served under.
const AudioPrefix = "/audio/"

// AddMessageRequest is the body of POST /tts/add_message.
type AddMessageRequest struct {
	SentBy      string `json:"sent_by"`
	Text        string `json:"text"`
	BitsAmount  *int64 `json:"bits_amount,omitempty"`
	MessageType string `json:"message_type"`
}

// MessageResponse is returned when a message is queued or marked played.
type MessageResponse struct {
	Message   string `json:"message"`
	MessageID int64  `json:"message_id"`
}

// StatsResponse is the active lane snapshot plus the autoplay flag. It is
// also the frame sent on the websocket feed.
type StatsResponse struct {
	queue.Stats
	AutoplayEnabled bool `json:"autoplay_enabled"`
}

// PlayNextResponse describes the message that started playing. All fields
// are empty when nothing was ready.
type PlayNextResponse struct {
	MessageID     int64  `json:"message_id,omitempty"`
	SentBy        string `json:"sent_by,omitempty"`
	Text          string `json:"text,omitempty"`
	AudioFilePath string `json:"audio_file_path,omitempty"`
}

// Empty reports whether no message was started.
func (r PlayNextResponse) Empty() bool { return r.MessageID == 0 }

// StatusResponse carries a human readable outcome.
type StatusResponse struct {
	Message string `json:"message"`
}

// AutoplayResponse is returned by the autoplay toggles.
type AutoplayResponse struct {
	Message         string `json:"message"`
	AutoplayEnabled bool   `json:"autoplay_enabled"`
	Changed         bool   `json:"changed"`
}

// ClearResponse is returned by POST /tts/clear_active_queue.
type ClearResponse struct {
	Message      string `json:"message"`
	ClearedCount int    `json:"cleared_count"`
}

// SwitchRequest is the body of POST /tts/switch_active_queue.
type SwitchRequest struct {
	QueueType string `json:"queue_type"`
}

// SwitchResponse reports the lane in effect after a switch request.
type SwitchResponse struct {
	Message         string       `json:"message"`
	ActiveQueueType message.Lane `json:"active_queue_type"`
	Switched        bool         `json:"switched"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Message is the wire form of a queued message. The audio path is exposed
// as a URL under AudioPrefix rather than a filesystem path.
type Message struct {
	ID          int64          `json:"id"`
	Lane        message.Lane   `json:"lane"`
	SentBy      string         `json:"sent_by"`
	Text        string         `json:"text"`
	BitsAmount  *int64         `json:"bits_amount,omitempty"`
	Status      message.Status `json:"status"`
	AudioURL    string         `json:"audio_url,omitempty"`
	AudioSize   int64          `json:"audio_size,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	PlayedAt    *time.Time     `json:"played_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// FromMessage converts a stored message to its wire form.
func FromMessage(m *message.Message) Message {
	return Message{
		ID:          m.ID,
		Lane:        m.Lane,
		SentBy:      m.Sender,
		Text:        m.Text,
		BitsAmount:  m.Amount,
		Status:      m.Status,
		AudioURL:    audioURL(m.AudioPath),
		AudioSize:   m.AudioSize,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		ProcessedAt: m.ProcessedAt,
		PlayedAt:    m.PlayedAt,
		DeletedAt:   m.DeletedAt,
	}
}

func audioURL(path string) string {
	if path == "" {
		return ""
	}
	return AudioPrefix + filepath.Base(path)
}
