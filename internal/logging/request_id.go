package logging

import "github.com/google/uuid"

// GenerateRequestID returns a random identifier used to correlate the log
// lines of one connection.
func GenerateRequestID() string {
	return uuid.NewString()
}
