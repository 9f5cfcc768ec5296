package domain

import "errors"

var (
	// ErrRoleConflict is returned when a second identity claims ownership of a room.
	ErrRoleConflict = errors.New("room already has an owner")
	// ErrRoomFull is returned when a new participant joins a room at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrUnauthorized is returned when the sender's role lacks authority for a command.
	ErrUnauthorized = errors.New("role is not allowed to send this command")
	// ErrPhaseViolation is returned when a command is illegal in the current phase.
	ErrPhaseViolation = errors.New("command not allowed in current phase")
	// ErrRoomNotFound is returned when joining a room that is not registered.
	ErrRoomNotFound = errors.New("quiz room not found")
	// ErrTransportFailure marks a send/receive failure on one connection.
	ErrTransportFailure = errors.New("transport failure")
	// ErrAuthenticationFailure is returned when the session token is rejected.
	ErrAuthenticationFailure = errors.New("authentication failed")
	// ErrAnswerWindowClosed is returned for answers after the configured deadline.
	ErrAnswerWindowClosed = errors.New("answer window closed")
	// ErrInvalidPayload is returned when command data cannot be decoded or validated.
	ErrInvalidPayload = errors.New("invalid command payload")
	// ErrUnknownCommand is returned for command names outside the protocol.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQuizNotFound indicates no quiz bank (or no next quiz) is available.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrParticipantNotFound is returned when a participant acts without a seat.
	ErrParticipantNotFound = errors.New("participant not found in room")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrRoleConflict, "RoleConflict"},
	{ErrRoomFull, "RoomFull"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrPhaseViolation, "PhaseViolation"},
	{ErrRoomNotFound, "RoomNotFound"},
	{ErrTransportFailure, "TransportFailure"},
	{ErrAuthenticationFailure, "AuthenticationFailure"},
	{ErrAnswerWindowClosed, "AnswerWindowClosed"},
	{ErrInvalidPayload, "InvalidPayload"},
	{ErrUnknownCommand, "UnknownCommand"},
	{ErrQuizNotFound, "QuizNotFound"},
	{ErrParticipantNotFound, "ParticipantNotFound"},
}

// Code maps an error to its stable wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
