package chat

import "github.com/pkg/errors"

var (
	ErrEmptyContent     = errors.New("message content is empty")
	ErrAlreadyStreaming = errors.New("chat is already streaming")
	ErrNoModels         = errors.New("no models selected")
)
