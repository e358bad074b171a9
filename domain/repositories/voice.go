package repositories

import "context"

// VoiceChannel is an open duplex connection to the voice endpoint
type VoiceChannel interface {
	// Send queues one text frame for writing. It never blocks; frames are
	// written in the order Send was called.
	Send(payload []byte) error
	// Inbound yields received text frames and is closed when the channel ends.
	Inbound() <-chan []byte
	// Err returns the error that ended the channel, nil after a clean close.
	Err() error
	Close() error
}

// VoiceDialer opens voice channels
type VoiceDialer interface {
	Dial(ctx context.Context, userID string) (VoiceChannel, error)
}
