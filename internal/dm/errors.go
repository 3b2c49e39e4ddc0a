package dm

import "errors"

var (
	// ErrSelfChat is returned when a message's peer key equals the local
	// identity. Self-chats are rejected outright.
	ErrSelfChat = errors.New("dm: peer key equals local identity")

	// ErrInvalidMessage is returned for messages missing an id or peer key.
	ErrInvalidMessage = errors.New("dm: invalid message")
)
