package textenc

import (
	"errors"
	"testing"

	"github.com/starford/linkfix/internal/apperr"
)

func TestLookup_Default(t *testing.T) {
	c, err := Lookup("")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Name() != "utf-8" {
		t.Errorf("name = %q, want utf-8", c.Name())
	}
	for _, alias := range []string{"UTF-8", "utf8", " unicode-1-1-utf-8 "} {
		c, err := Lookup(alias)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", alias, err)
		}
		if c.Name() != "utf-8" {
			t.Errorf("Lookup(%q) name = %q", alias, c.Name())
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, err := Lookup("klingon-8"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestUTF8_InvalidBytes(t *testing.T) {
	c, _ := Lookup("utf-8")
	_, err := c.Decode([]byte{0xff, 0xfe, 'a'})
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestUTF8_RoundTrip(t *testing.T) {
	c, _ := Lookup("utf-8")
	in := []byte("\uFEFFÜber [[straße]]\n")
	text, err := c.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	out, err := c.Encode(text)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("round trip = %q, want %q", out, in)
	}
}

func TestLatin1(t *testing.T) {
	c, err := Lookup("latin1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	text, err := c.Decode([]byte{'c', 'a', 'f', 0xe9})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "café" {
		t.Errorf("text = %q, want café", text)
	}
	out, err := c.Encode("[café](café.md)")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if out[len(out)-5] != 0xe9 {
		t.Errorf("encoded = %v", out)
	}
	if _, err := c.Encode("snow ☃"); err == nil {
		t.Error("expected error for rune outside latin1")
	}
}

func TestUTF16_ReplacementCharacter(t *testing.T) {
	c, err := Lookup("utf-16le")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// "a\uFFFDb" stored as UTF-16LE is valid text.
	text, err := c.Decode([]byte{'a', 0, 0xfd, 0xff, 'b', 0})
	if err != nil {
		t.Fatalf("Decode legitimate U+FFFD: %v", err)
	}
	if text != "a\uFFFDb" {
		t.Errorf("text = %q", text)
	}

	// A lone high surrogate is not.
	if _, err := c.Decode([]byte{'a', 0, 0x00, 0xd8, 'b', 0}); !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("lone surrogate: err = %v, want ErrDecode", err)
	}
}
