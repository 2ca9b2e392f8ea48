package crypto

import "crypto/rand"

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomKey returns a fresh key of the algorithm's default size.
func RandomKey(a Algorithm) ([]byte, error) {
	return RandomBytes(a.DefaultKeySize())
}
