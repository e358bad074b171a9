package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satriahrh/travelbuddy/domain"
)

// EncodeOutbound serializes a client event into a JSON text frame
func EncodeOutbound(msg Outbound) ([]byte, error) {
	if msg == nil {
		return nil, &domain.DecodeError{Err: errors.New("nil message")}
	}
	base := BaseMessage{Type: msg.OutboundType()}

	var wire interface{}
	switch m := msg.(type) {
	case StartRecording:
		if m.UserID == "" {
			return nil, newDecodeError(base.Type, "user_id is required")
		}
		wire = userMessage{BaseMessage: base, UserID: m.UserID}
	case StopRecording:
		if m.UserID == "" {
			return nil, newDecodeError(base.Type, "user_id is required")
		}
		wire = userMessage{BaseMessage: base, UserID: m.UserID}
	case AudioChunk:
		if len(m.Audio) == 0 {
			return nil, newDecodeError(base.Type, "audio is required")
		}
		wire = audioMessage{BaseMessage: base, Audio: base64.StdEncoding.EncodeToString(m.Audio)}
	case Chat:
		if m.Message == "" {
			return nil, newDecodeError(base.Type, "message is required")
		}
		wire = chatMessage{BaseMessage: base, Message: m.Message, UserID: m.UserID}
	case Ping:
		wire = timestampMessage{BaseMessage: base, Timestamp: m.Timestamp}
	default:
		return nil, newDecodeError(base.Type, "unsupported outbound message")
	}

	return marshal(base.Type, wire)
}

// DecodeOutbound parses a client event. The backend side of the channel
// uses it; the client only needs it for tests.
func DecodeOutbound(data []byte) (Outbound, error) {
	base, err := parseBase(data)
	if err != nil {
		return nil, err
	}

	switch base.Type {
	case MessageTypeStartRecording, MessageTypeStopRecording:
		var msg userMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" {
			return nil, newDecodeError(base.Type, "user_id is required")
		}
		if base.Type == MessageTypeStartRecording {
			return StartRecording{UserID: msg.UserID}, nil
		}
		return StopRecording{UserID: msg.UserID}, nil

	case MessageTypeAudioChunk:
		var msg audioMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		if msg.Audio == "" {
			return nil, newDecodeError(base.Type, "audio is required")
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, &domain.DecodeError{Type: string(base.Type), Err: fmt.Errorf("invalid base64 audio: %w", err)}
		}
		return AudioChunk{Audio: audio}, nil

	case MessageTypeChat:
		var msg chatMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		if msg.Message == "" {
			return nil, newDecodeError(base.Type, "message is required")
		}
		return Chat{Message: msg.Message, UserID: msg.UserID}, nil

	case MessageTypePing:
		var msg timestampMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		return Ping{Timestamp: msg.Timestamp}, nil

	default:
		return nil, newDecodeError(base.Type, "unsupported message type")
	}
}

// EncodeInbound serializes a backend event into a JSON text frame
func EncodeInbound(msg Inbound) ([]byte, error) {
	if msg == nil {
		return nil, &domain.DecodeError{Err: errors.New("nil message")}
	}
	base := BaseMessage{Type: msg.InboundType()}

	var wire interface{}
	switch m := msg.(type) {
	case Transcription:
		wire = textMessage{BaseMessage: base, Text: m.Text}
	case Response:
		reply := m.Reply
		wire = replyMessage{BaseMessage: base, Data: &reply}
	case ChatReply:
		reply := m.Reply
		wire = replyMessage{BaseMessage: base, Data: &reply}
	case AudioResponse:
		if m.Audio == "" {
			return nil, newDecodeError(base.Type, "audio is required")
		}
		wire = audioMessage{BaseMessage: base, Audio: m.Audio}
	case Info:
		wire = noticeMessage{BaseMessage: base, Message: m.Message}
	case ServerError:
		wire = noticeMessage{BaseMessage: base, Message: m.Message}
	case Pong:
		wire = timestampMessage{BaseMessage: base, Timestamp: m.Timestamp}
	default:
		return nil, newDecodeError(base.Type, "unsupported inbound message")
	}

	return marshal(base.Type, wire)
}

// DecodeInbound parses a backend event. Unknown or missing types and
// malformed bodies yield a *domain.DecodeError; extra fields are ignored.
func DecodeInbound(data []byte) (Inbound, error) {
	base, err := parseBase(data)
	if err != nil {
		return nil, err
	}

	switch base.Type {
	case MessageTypeTranscription:
		var msg textMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		return Transcription{Text: msg.Text}, nil

	case MessageTypeResponse, MessageTypeChatResponse:
		var msg replyMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		if msg.Data == nil {
			return nil, newDecodeError(base.Type, "data is required")
		}
		if base.Type == MessageTypeResponse {
			return Response{Reply: *msg.Data}, nil
		}
		return ChatReply{Reply: *msg.Data}, nil

	case MessageTypeAudioResponse:
		var msg audioMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		if msg.Audio == "" {
			return nil, newDecodeError(base.Type, "audio is required")
		}
		return AudioResponse{Audio: msg.Audio}, nil

	case MessageTypeInfo, MessageTypeError:
		var msg noticeMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		if base.Type == MessageTypeInfo {
			return Info{Message: msg.Message}, nil
		}
		return ServerError{Message: msg.Message}, nil

	case MessageTypePong:
		var msg timestampMessage
		if err := unmarshal(base.Type, data, &msg); err != nil {
			return nil, err
		}
		return Pong{Timestamp: msg.Timestamp}, nil

	default:
		return nil, newDecodeError(base.Type, "unsupported message type")
	}
}

// PeekType returns the type discriminant without decoding the body
func PeekType(data []byte) (MessageType, error) {
	base, err := parseBase(data)
	if err != nil {
		return "", err
	}
	return base.Type, nil
}

func parseBase(data []byte) (BaseMessage, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return base, &domain.DecodeError{Err: fmt.Errorf("invalid JSON format: %w", err)}
	}
	if base.Type == "" {
		return base, &domain.DecodeError{Err: errors.New("message missing type field")}
	}
	return base, nil
}

func unmarshal(msgType MessageType, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.DecodeError{Type: string(msgType), Err: fmt.Errorf("invalid %s message: %w", msgType, err)}
	}
	return nil
}

func marshal(msgType MessageType, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &domain.DecodeError{Type: string(msgType), Err: err}
	}
	return data, nil
}

func newDecodeError(msgType MessageType, reason string) *domain.DecodeError {
	return &domain.DecodeError{Type: string(msgType), Err: errors.New(reason)}
}
