package exception

import "github.com/yanun0323/errors"

// Configuration errors
var (
	ErrUnknownStrategy = errors.New("config: unknown strategy")
	ErrUnknownBackend  = errors.New("config: unknown store backend")
	ErrMissingPath     = errors.New("config: missing store path")
	ErrMissingDSN      = errors.New("config: missing store dsn")
)
