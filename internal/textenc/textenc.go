// Package textenc decodes and encodes document content under a fixed,
// configurable text encoding.
package textenc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/starford/linkfix/internal/apperr"
)

// Default is the encoding used when none is configured.
const Default = "utf-8"

// Codec converts between raw file bytes and text.
type Codec interface {
	Name() string
	Decode(data []byte) (string, error)
	Encode(text string) ([]byte, error)
}

// Lookup returns the codec for a WHATWG encoding label such as "utf-8",
// "latin1" or "windows-1252". An empty name selects Default.
func Lookup(name string) (Codec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = Default
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("textenc: unknown encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(name)
	}
	if canonical == "utf-8" {
		return utf8Codec{}, nil
	}
	return &xCodec{name: canonical, enc: enc}, nil
}

// utf8Codec validates strictly; content is passed through unchanged.
type utf8Codec struct{}

func (utf8Codec) Name() string { return "utf-8" }

func (utf8Codec) Decode(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("textenc: utf-8: %w", apperr.ErrDecode)
	}
	return string(data), nil
}

func (utf8Codec) Encode(text string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("textenc: utf-8: %w", apperr.ErrDecode)
	}
	return []byte(text), nil
}

type xCodec struct {
	name string
	enc  encoding.Encoding
}

func (c *xCodec) Name() string { return c.name }

// Decode rejects content the decoder could only represent with the
// replacement character. The x/text decoders substitute U+FFFD silently,
// so decoded text holding it must encode back to the exact input bytes;
// otherwise the input was invalid.
func (c *xCodec) Decode(data []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("textenc: %s: %w: %v", c.name, apperr.ErrDecode, err)
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		back, encErr := c.enc.NewEncoder().Bytes(out)
		if encErr != nil || !bytes.Equal(back, data) {
			return "", fmt.Errorf("textenc: %s: invalid byte sequence: %w", c.name, apperr.ErrDecode)
		}
	}
	return string(out), nil
}

func (c *xCodec) Encode(text string) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("textenc: %s: encode: %w", c.name, err)
	}
	return out, nil
}
