// Package protocol defines the JSON messages exchanged over the /ws/voice
// channel and converts them to and from typed events.
package protocol

import "github.com/satriahrh/travelbuddy/domain"

// MessageType is the "type" discriminant carried by every message
type MessageType string

// Client to server
const (
	MessageTypeStartRecording MessageType = "start_recording"
	MessageTypeAudioChunk     MessageType = "audio_chunk"
	MessageTypeStopRecording  MessageType = "stop_recording"
	MessageTypeChat           MessageType = "chat"
	MessageTypePing           MessageType = "ping"
)

// Server to client
const (
	MessageTypeTranscription MessageType = "transcription"
	MessageTypeResponse      MessageType = "response"
	MessageTypeAudioResponse MessageType = "audio_response"
	MessageTypeChatResponse  MessageType = "chat_response"
	MessageTypeInfo          MessageType = "info"
	MessageTypeError         MessageType = "error"
	MessageTypePong          MessageType = "pong"
)

// Outbound is an event the client sends to the backend
type Outbound interface {
	OutboundType() MessageType
}

// Inbound is an event the backend sends to the client
type Inbound interface {
	InboundType() MessageType
}

// StartRecording opens a recording; audio chunks may follow
type StartRecording struct {
	UserID string
}

// AudioChunk carries one slice of captured audio
type AudioChunk struct {
	Audio []byte
}

// StopRecording closes the recording opened by StartRecording
type StopRecording struct {
	UserID string
}

// Chat sends typed text over the voice channel
type Chat struct {
	Message string
	UserID  string
}

// Ping is an application-level heartbeat. Timestamp is in unix milliseconds.
type Ping struct {
	Timestamp int64
}

func (StartRecording) OutboundType() MessageType { return MessageTypeStartRecording }
func (AudioChunk) OutboundType() MessageType     { return MessageTypeAudioChunk }
func (StopRecording) OutboundType() MessageType  { return MessageTypeStopRecording }
func (Chat) OutboundType() MessageType           { return MessageTypeChat }
func (Ping) OutboundType() MessageType           { return MessageTypePing }

// Transcription carries recognized speech
type Transcription struct {
	Text string
}

// Response carries the structured reply to a finished recording
type Response struct {
	Reply domain.ChatResponse
}

// AudioResponse carries synthesized speech, still base64 encoded
type AudioResponse struct {
	Audio string
}

// ChatReply answers a Chat sent over the voice channel
type ChatReply struct {
	Reply domain.ChatResponse
}

// Info is a human-readable status notice
type Info struct {
	Message string
}

// ServerError is a human-readable error reported by the backend
type ServerError struct {
	Message string
}

// Pong answers a Ping, echoing its timestamp
type Pong struct {
	Timestamp int64
}

func (Transcription) InboundType() MessageType { return MessageTypeTranscription }
func (Response) InboundType() MessageType      { return MessageTypeResponse }
func (AudioResponse) InboundType() MessageType { return MessageTypeAudioResponse }
func (ChatReply) InboundType() MessageType     { return MessageTypeChatResponse }
func (Info) InboundType() MessageType          { return MessageTypeInfo }
func (ServerError) InboundType() MessageType   { return MessageTypeError }
func (Pong) InboundType() MessageType          { return MessageTypePong }

// BaseMessage is the part every message shares
type BaseMessage struct {
	Type MessageType `json:"type"`
}

type userMessage struct {
	BaseMessage
	UserID string `json:"user_id"`
}

type audioMessage struct {
	BaseMessage
	Audio string `json:"audio"`
}

type chatMessage struct {
	BaseMessage
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type timestampMessage struct {
	BaseMessage
	Timestamp int64 `json:"timestamp"`
}

type textMessage struct {
	BaseMessage
	Text string `json:"text"`
}

type replyMessage struct {
	BaseMessage
	Data *domain.ChatResponse `json:"data"`
}

type noticeMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// IsOutbound reports whether t is a message type clients send
func IsOutbound(t MessageType) bool {
	switch t {
	case MessageTypeStartRecording, MessageTypeAudioChunk, MessageTypeStopRecording, MessageTypeChat, MessageTypePing:
		return true
	}
	return false
}
