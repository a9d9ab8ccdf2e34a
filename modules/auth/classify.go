package auth

import "strings"

// IsTokenExpiry reports whether a 401 message means the access token
// expired, as opposed to bad credentials.
func IsTokenExpiry(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "token") &&
		(strings.Contains(msg, "expired") ||
			strings.Contains(msg, "invalid") ||
			strings.Contains(msg, "unauthorized"))
}

// IsSessionTerminated reports whether a 403 message means the session is
// over. There is no refresh path for 403.
func IsSessionTerminated(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "token") &&
		(strings.Contains(msg, "expired") ||
			strings.Contains(msg, "invalid") ||
			strings.Contains(msg, "session"))
}

func isRefreshCall(path string) bool {
	return strings.Contains(path, "/auth/refresh-token")
}
