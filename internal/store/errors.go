package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrRequestClosed   = errors.New("sos request is not open")
	ErrAlreadyAccepted = errors.New("donor already accepted this sos request")
	ErrEntryNotFound   = errors.New("donor entry not found")
	ErrEmailTaken      = errors.New("email already registered")
)
