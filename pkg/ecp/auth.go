package ecp

import (
	"crypto/sha1" //nolint:gosec
	"encoding/base64"
)

const (
	authKey   = "95E610D0-7C29-44EF-FB0F-97F1FCE4C297"
	authShift = 9
)

// transformKey maps every hex digit of key into another hex digit.
// Other characters are left untouched.
func transformKey(key string, shift int) string {
	out := []byte(key)

	for i, c := range out {
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'A' && c <= 'F':
			v = int(c-'A') + 10
		default:
			continue
		}

		v = ((15 - v) + shift) & 15
		if v < 10 {
			out[i] = byte('0' + v)
		} else {
			out[i] = byte('A' + v - 10)
		}
	}

	return string(out)
}

// AuthResponse computes the response to an authentication challenge.
func AuthResponse(challenge string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(challenge))
	h.Write([]byte(transformKey(authKey, authShift)))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
