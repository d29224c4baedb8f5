// internal/errors/errors.go
package appErrors

import (
    "errors"
    "fmt"
    "net/http"
)

var (
    ErrForbidden         = errors.New("campaign belongs to another owner")
    ErrInvalidTransition = errors.New("illegal campaign status transition")
    ErrNotDraft          = errors.New("campaign can only be edited while in draft")
    ErrCampaignRunning   = errors.New("campaign cannot be deleted while running")
    ErrNoRecipients      = errors.New("campaign has no recipients")
    ErrNoCredentials     = errors.New("no valid sender credentials")
    ErrAuthExpired       = errors.New("sender authorization expired")
    ErrUnauthenticated   = errors.New("authentication required")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
    CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
    return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
    return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError carries a user-facing message about bad input.
type ValidationError struct {
    Message string
}

func (e *ValidationError) Error() string {
    return e.Message
}

func NewValidation(format string, args ...any) error {
    return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TransitionError names the rejected edge.
type TransitionError struct {
    From string
    To   string
}

func (e *TransitionError) Error() string {
    return fmt.Sprintf("cannot move campaign from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
    return ErrInvalidTransition
}

func IsNotFound(err error) bool {
    var nf *ErrCampaignNotFound
    return errors.As(err, &nf)
}

// HTTPStatus maps an application error to the response code of the API.
func HTTPStatus(err error) int {
    var validation *ValidationError
    switch {
    case err == nil:
        return http.StatusOK
    case IsNotFound(err):
        return http.StatusNotFound
    case errors.Is(err, ErrUnauthenticated):
        return http.StatusUnauthorized
    case errors.Is(err, ErrForbidden):
        return http.StatusForbidden
    case errors.As(err, &validation),
        errors.Is(err, ErrInvalidTransition),
        errors.Is(err, ErrNotDraft),
        errors.Is(err, ErrCampaignRunning),
        errors.Is(err, ErrNoRecipients):
        return http.StatusBadRequest
    }
    return http.StatusInternalServerError
}
