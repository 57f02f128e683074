package engine

import (
	"math/rand"
	"time"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var idEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// generateID builds a fixed-length base-62 id: two characters encode a
// coarse day slice so ids sort roughly by creation time, the rest is
// random. Collision handling is the caller's job.
func generateID(now time.Time, length int, rng *rand.Rand) string {
	if length < 3 {
		length = 3
	}
	buf := make([]byte, length)
	days := int(now.UTC().Sub(idEpoch).Hours() / 24)
	if days < 0 {
		days = 0
	}
	slice := days % (62 * 62)
	buf[0] = idAlphabet[slice/62]
	buf[1] = idAlphabet[slice%62]
	for i := 2; i < length; i++ {
		buf[i] = idAlphabet[rng.Intn(62)]
	}
	return string(buf)
}

func validID(id string, length int) bool {
	if len(id) != length {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
