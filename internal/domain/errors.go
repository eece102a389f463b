package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Auth errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrTokenInvalid       = errors.New("invalid token")

	// Room errors
	ErrRoomNotFound   = errors.New("room not found")
	ErrSlugTaken      = errors.New("room slug already taken")
	ErrNotAuthorized  = errors.New("not authorized for this room")
	ErrOwnerOnly      = errors.New("only the owner may perform this action")
	ErrSuperuserEdit  = errors.New("only the owner may edit superusers")
	ErrPasswordNeeded = errors.New("password required to join this room")
)
