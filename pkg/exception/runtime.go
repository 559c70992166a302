package exception

import "github.com/yanun0323/errors"

// Runtime lifecycle errors
var (
	ErrAlreadyStarted  = errors.New("runtime: already started")
	ErrAlreadyClosed   = errors.New("runtime: already closed")
	ErrShutdownTimeout = errors.New("runtime: shutdown timed out")
)
