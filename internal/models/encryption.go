package models

// Encryption parameters for session data at rest
const (
	NonceSize  = 12
	KeySize    = 32
	Iterations = 100000
)
