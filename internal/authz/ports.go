package authz

import (
	"context"
	"errors"
	"net/http"
)

// Gateway is the part of the upstream API the authorization layer calls.
// Implementations carry the visitor's upstream credentials.
type Gateway interface {
	Me(ctx context.Context) (User, error)
	Login(ctx context.Context, email, password string) (User, error)
	Logout(ctx context.Context) error
	MyPermissions(ctx context.Context) ([]byte, error)
}

// StatusCoder is implemented by errors carrying an upstream HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// StatusOf extracts the upstream status code from err. ok is false for
// transport failures and other errors without a status.
func StatusOf(err error) (code int, ok bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// answered reports whether err came from a response the upstream accepted,
// such as a 2xx whose body could not be decoded.
func answered(err error) bool {
	code, ok := StatusOf(err)
	return ok && code >= http.StatusOK && code < http.StatusMultipleChoices
}

// expiresSession reports whether a revalidation failure must end the session:
// rejected credentials, a server error, or no response at all.
func expiresSession(err error) bool {
	code, ok := StatusOf(err)
	if !ok {
		return true
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError:
		return true
	}
	return false
}

// MessageOf returns the user-facing message of an upstream error.
func MessageOf(err error, fallback string) string {
	var mc interface{ UserMessage() string }
	if errors.As(err, &mc) {
		if msg := mc.UserMessage(); msg != "" {
			return msg
		}
	}
	var se StepError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return fallback
}
