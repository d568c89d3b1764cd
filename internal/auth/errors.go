package auth

import "errors"

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrEmailInUse    = errors.New("email already in use")
	ErrWeakPassword  = errors.New("weak password")
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrUserDisabled  = errors.New("user disabled")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// MinPasswordLength is the shortest password SignUp accepts.
const MinPasswordLength = 6

var messages = []struct {
	err error
	msg string
}{
	{ErrInvalidEmail, "The email address is not valid."},
	{ErrUserDisabled, "This account has been disabled."},
	{ErrUserNotFound, "No user was found with this email."},
	{ErrWrongPassword, "The password is incorrect."},
	{ErrEmailInUse, "This email is already in use."},
	{ErrWeakPassword, "Passwords must be at least 6 characters."},
	{ErrInvalidToken, "The sign-in token is invalid or expired."},
	{ErrTokenRevoked, "This session has been signed out."},
}

// Message returns a human-readable message for an authentication failure.
// Unrecognised errors fall back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// IsCredentialError reports whether err is a failure caused by what the user
// entered rather than by the backend.
func IsCredentialError(err error) bool {
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return true
		}
	}
	return false
}
