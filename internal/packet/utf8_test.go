package packet

import (
	"strings"
	"testing"
)

func TestUTF8(t *testing.T) {
	t.Parallel()

	// U+0000 invalid
	if checkUTF8([]byte{0x00}, false) == nil {
		t.Fatal(0)
	}

	// U+D7FF valid
	if checkUTF8([]byte{0xED, 0x9F, 0xBF, 0x31}, false) != nil {
		t.Fatal(1)
	}

	// U+D800 invalid
	if checkUTF8([]byte{0xED, 0xA0, 0x80}, false) == nil {
		t.Fatal(3)
	}

	// U+DFFF invalid
	if checkUTF8([]byte{0xED, 0xBF, 0xBF}, false) == nil {
		t.Fatal(4)
	}

	// U+E000 valid
	if checkUTF8([]byte{0xEE, 0x80, 0x80}, false) != nil {
		t.Fatal(5)
	}

	// U+0001, U+FEFF valid
	if checkUTF8([]byte{0x01, 0xEF, 0xBB, 0xBF, 0x59}, false) != nil {
		t.Fatal(6)
	}

	// U+0001, U+FEFF, U+0000 invalid
	if checkUTF8([]byte{0x01, 0xEF, 0xBB, 0xBF, 0x59, 0}, false) == nil {
		t.Fatal(7)
	}

	// U+FFFD followed by U+0000 invalid
	if checkUTF8([]byte{0xEF, 0xBF, 0xBD, 0}, false) == nil {
		t.Fatal(8)
	}

	if checkUTF8([]byte("a/+/b"), true) != errContainsWildCards {
		t.Fatal(9)
	}
}

func TestValidFilter(t *testing.T) {
	t.Parallel()

	valid := []string{"#", "+", "a/b", "a/+/c", "a/#", "+/+", "/", "sport/tennis/#"}
	for _, f := range valid {
		if err := ValidFilter(f); err != nil {
			t.Fatal(f, err)
		}
	}

	invalid := []string{"", "a#", "a/#/b", "a+", "a/b+", "+a/b"}
	for _, f := range invalid {
		if ValidFilter(f) == nil {
			t.Fatal(f)
		}
	}

	if ValidTopic("a/+") == nil || ValidTopic("") == nil || ValidTopic("a/b") != nil {
		t.Fatal("ValidTopic")
	}
}

func TestStringLengthLimit(t *testing.T) {
	t.Parallel()

	fits := strings.Repeat("a", MaxStringLength)
	if ValidTopic(fits) != nil || ValidFilter(fits) != nil {
		t.Fatal("65535 bytes must be accepted")
	}
	over := fits + "a"
	if ValidTopic(over) == nil || ValidFilter(over) == nil {
		t.Fatal("65536 bytes can not be length prefixed")
	}
}
