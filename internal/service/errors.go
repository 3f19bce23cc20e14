package service

import "errors"

var (
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrSessionClosed     = errors.New("chat session is already closed")
	ErrSessionNotWaiting = errors.New("chat session is no longer waiting")
	ErrNotParticipant    = errors.New("not a participant of this chat session")
	ErrStaffNotFound     = errors.New("staff not found")
	ErrStaffInactive     = errors.New("staff account is disabled")
	ErrStaffAtCapacity   = errors.New("staff has reached the maximum number of concurrent chats")
	ErrStaffUnavailable  = errors.New("target staff is offline or at capacity")
	ErrInvalidVisitor    = errors.New("invalid visitor id")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrMessageTooLong    = errors.New("message content is too long")
	ErrInternalServer    = errors.New("internal server error")
)
