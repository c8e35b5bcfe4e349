package model

import "errors"

var (
	// ErrTabNotFound is returned when a tab index does not match any live tab.
	ErrTabNotFound = errors.New("tab not found")

	// ErrSessionNotFound is returned when a link ID does not match any live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotConnected is returned when an operation needs a connected session.
	ErrNotConnected = errors.New("session is not connected")

	// ErrInvalidGeometry is returned for terminal sizes outside 1..65535.
	ErrInvalidGeometry = errors.New("cols and rows must be between 1 and 65535")

	// ErrInvalidConnection is returned when a connection descriptor is incomplete.
	ErrInvalidConnection = errors.New("invalid connection descriptor")

	// ErrControllerClosed is returned by a controller that has been torn down.
	ErrControllerClosed = errors.New("controller is closed")

	// ErrBusy is returned when a connect is requested while one is in progress.
	ErrBusy = errors.New("session is busy")

	// ErrTransferNotFound is returned when a transfer ID is unknown.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrUnsupported is returned when the backend does not provide an operation.
	ErrUnsupported = errors.New("operation not supported by backend")
)
