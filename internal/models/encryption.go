package models

// Encryption parameters for the at-rest body encryptor.
const (
	NonceSize  = 12
	KeySize    = 32
	Iterations = 100000
)
