package audio

import "errors"

var (
	// ErrConnect means the sound server could not be reached at startup.
	ErrConnect = errors.New("cannot connect to sound server")
	// ErrConnectionLost means the connection dropped; the Conn is unusable.
	ErrConnectionLost = errors.New("sound server connection lost")
	// ErrTimeout means the server did not answer within the operation timeout.
	ErrTimeout = errors.New("sound server operation timed out")
	// ErrCanceled means the caller gave up before the server answered.
	ErrCanceled = errors.New("sound server operation canceled")
	// ErrRequestFailed means the server answered with an error.
	ErrRequestFailed = errors.New("sound server rejected request")
	ErrSetup         = errors.New("virtual device setup failed")
	ErrAlreadySetUp  = errors.New("virtual devices already set up")
	ErrInvalidTarget = errors.New("invalid routing target")
	ErrMoveFailed    = errors.New("stream move failed")
)
