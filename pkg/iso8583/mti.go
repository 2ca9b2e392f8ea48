package iso8583

// validMTI reports whether s is four decimal digits.
func validMTI(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsRequestMTI reports whether the message function digit marks a request
// or advice (even) rather than a response (odd).
func IsRequestMTI(mti string) bool {
	return validMTI(mti) && (mti[2]-'0')%2 == 0
}

// ResponseMTI returns the response message type for a request, e.g. 0200
// becomes 0210 and 0800 becomes 0810. Response types are returned unchanged.
func ResponseMTI(mti string) (string, error) {
	if !validMTI(mti) {
		return "", ErrInvalidMTI
	}
	if !IsRequestMTI(mti) {
		return mti, nil
	}
	b := []byte(mti)
	b[2]++
	return string(b), nil
}
