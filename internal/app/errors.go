package app

import "errors"

var (
	// ErrEmptyContent rejects messages that are blank after trimming.
	ErrEmptyContent = errors.New("empty content")
	ErrCubeNotFound = errors.New("cube not found")
	// ErrNoDefaultCube means no cube sits at position 0 to catch unscoped sends.
	ErrNoDefaultCube   = errors.New("no default cube")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyNickname   = errors.New("empty nickname")
	// ErrInvalidState rejects OAuth callbacks whose state nonce is unknown or
	// already consumed.
	ErrInvalidState = errors.New("invalid oauth state")
)
