package auth

import "errors"

var (
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrUserDisabled       = errors.New("user disabled")
	ErrProvider           = errors.New("identity provider error")
	ErrProviderDisabled   = errors.New("sign-in method not enabled")
	ErrFederatedCancelled = errors.New("federated sign-in cancelled")
	ErrEmailInUse         = errors.New("email already in use")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrWeakPassword       = errors.New("password too weak")
	ErrInvalidDisplayName = errors.New("invalid display name")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
)

// Message maps an auth error to the text shown to the user.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredential):
		return "Invalid email or password."
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email address. Please check and try again."
	case errors.Is(err, ErrUserDisabled):
		return "This account has been disabled. Please contact support."
	case errors.Is(err, ErrProviderDisabled):
		return "This sign-in method is not enabled. Please contact support."
	case errors.Is(err, ErrFederatedCancelled):
		return "Sign-in popup was closed before completing the sign-in process."
	case errors.Is(err, ErrEmailInUse):
		return "An account with this email already exists"
	case errors.Is(err, ErrPasswordMismatch):
		return "Passwords do not match"
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	case errors.Is(err, ErrInvalidDisplayName):
		return "Display name must be between 1 and 50 characters."
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRevoked):
		return "Your session has expired. Please log in again."
	default:
		return "An error occurred. Please try again."
	}
}
