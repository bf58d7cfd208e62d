package packet

import (
	"errors"
	"unicode/utf8"
)

var errInvalidUTF = errors.New("invalid UTF8")
var errContainsWildCards = errors.New("contains wildcard characters")
var errTooLong = errors.New("longer than 65535 bytes")

// MaxStringLength is the most a length prefixed string can hold.
const MaxStringLength = 65535

func checkUTF8(str []byte, checkWildCards bool) error {
	for i := 0; i < len(str); {
		if str[i] == 0 { // [MQTT-1.5.3-2]
			return errInvalidUTF
		}

		if checkWildCards && (str[i] == '+' || str[i] == '#') { // [MQTT-3.3.2-2]
			return errContainsWildCards
		} else if str[i]&0x80 == 0 {
			i++
		} else {
			r, size := utf8.DecodeRune(str[i:])
			if r == utf8.RuneError && size == 1 {
				return errInvalidUTF
			}
			i += size
		}
	}
	return nil
}

// ValidTopic checks a topic name the client publishes to.
func ValidTopic(topic string) error {
	if topic == "" {
		return errors.New("empty topic")
	}
	if len(topic) > MaxStringLength {
		return errTooLong
	}
	return checkUTF8([]byte(topic), true)
}

// ValidFilter checks a topic filter the client subscribes with.
func ValidFilter(filter string) error {
	if filter == "" {
		return errors.New("empty topic filter")
	}
	if len(filter) > MaxStringLength {
		return errTooLong
	}
	if err := checkUTF8([]byte(filter), false); err != nil {
		return err
	}

	for i := 0; i < len(filter); i++ {
		switch filter[i] {
		case '#': // [MQTT-4.7.1-2]
			if i != len(filter)-1 || (i > 0 && filter[i-1] != '/') {
				return errors.New("multi-level wildcard not last level")
			}
		case '+': // [MQTT-4.7.1-3]
			if (i > 0 && filter[i-1] != '/') || (i < len(filter)-1 && filter[i+1] != '/') {
				return errors.New("single-level wildcard not whole level")
			}
		}
	}
	return nil
}
