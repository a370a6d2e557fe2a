package posapi

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnreachable wraps transport failures: DNS, refused connections, timeouts.
	ErrUnreachable = errors.New("server unreachable")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("server circuit open")
	// ErrInvalidResponse means the server answered with a body we cannot use.
	ErrInvalidResponse = errors.New("invalid server response")
)

// ErrorClass groups server errors by how the sync engine reacts to them.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	// ClassDuplicate: the invoice already exists on the server.
	ClassDuplicate
	// ClassInProgress: another request is processing the same invoice.
	ClassInProgress
)

func (c ErrorClass) String() string {
	switch c {
	case ClassDuplicate:
		return "duplicate"
	case ClassInProgress:
		return "in_progress"
	default:
		return "other"
	}
}

var (
	duplicatePatterns  = []string{"DUPLICATE_OFFLINE_INVOICE", "already been synced"}
	inProgressPatterns = []string{"SYNC_IN_PROGRESS", "currently being processed"}
	serverRefPattern   = regexp.MustCompile(`Sales Invoice: (\S+)`)
)

// ServerError is an error response from the server of record.
type ServerError struct {
	Status  int
	Message string
	Class   ErrorClass
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// ServerReference extracts the invoice name quoted in a duplicate error.
func (e *ServerError) ServerReference() string {
	if m := serverRefPattern.FindStringSubmatch(e.Message); len(m) == 2 {
		return strings.TrimRight(m[1], ".,;\"'")
	}
	return ""
}

// Classify maps a server message onto an ErrorClass.
func Classify(message string) ErrorClass {
	for _, p := range duplicatePatterns {
		if strings.Contains(message, p) {
			return ClassDuplicate
		}
	}
	for _, p := range inProgressPatterns {
		if strings.Contains(message, p) {
			return ClassInProgress
		}
	}
	return ClassOther
}

func newServerError(status int, message string) *ServerError {
	return &ServerError{Status: status, Message: message, Class: Classify(message)}
}

// ClassOf returns the class of err when it is a ServerError.
func ClassOf(err error) ErrorClass {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassOther
}

// IsNetworkError reports failures that mean "offline" rather than "rejected".
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrCircuitOpen)
}
