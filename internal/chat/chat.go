package chat

import "time"

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type InputType string

const (
	InputText  InputType = "text"
	InputAudio InputType = "audio"
)

type AttachmentKind string

const (
	AttachmentAudio AttachmentKind = "audio"
	AttachmentImage AttachmentKind = "image"
)

// Attachment is an audio or image artifact of a message. Server-backed
// attachments carry a media path in URL; locally produced ones carry Data.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	URL      string         `json:"url,omitempty"`
	MIMEType string         `json:"mime_type,omitempty"`
	Data     string         `json:"data,omitempty"` // base64
}

// Message is one entry of a transcript. A user message and the reply to it
// share the ID of their history item. Messages are never mutated after creation.
type Message struct {
	ID          int64        `json:"id"`
	SessionID   string       `json:"session_id"`
	Sender      ChatRole     `json:"sender"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Images returns the image attachments of the message.
func (m Message) Images() []Attachment {
	return m.byKind(AttachmentImage)
}

// Audio returns the audio attachments of the message.
func (m Message) Audio() []Attachment {
	return m.byKind(AttachmentAudio)
}

func (m Message) byKind(kind AttachmentKind) []Attachment {
	var out []Attachment
	for _, a := range m.Attachments {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Exchange is the user message and the assistant reply produced by one send.
type Exchange struct {
	User      Message
	Assistant Message
}
