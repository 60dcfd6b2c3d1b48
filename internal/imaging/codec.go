// Package imaging converts between the self-contained data-URL payloads the
// studio front-end exchanges and raw image bytes, and resizes finished
// designs onto the fixed print canvas.
package imaging

import (
	"encoding/base64"
	"fmt"
	"strings"

	"studio/internal/domain"
)

// Image is a decoded payload: raw bytes plus their MIME type.
type Image struct {
	MIME string
	Data []byte
}

// IsZero reports whether the payload carries no bytes.
func (i Image) IsZero() bool {
	return len(i.Data) == 0
}

// DataURL renders the payload as an embeddable data URL.
func (i Image) DataURL() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(i.Data))
}

// ParseDataURL decodes a data URL into an Image. Only base64-encoded image
// payloads are accepted; anything else is a decode error.
func ParseDataURL(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "payload is not a data URL")
	}
	meta, encoded, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "malformed data URL")
	}
	mime, rest, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(mime, "image/") {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "unsupported media type %q", mime)
	}
	if !strings.Contains(";"+rest, ";base64") {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "decode data URL payload: %v", err)
	}
	if len(data) == 0 {
		return Image{}, domain.Errf(domain.ErrKindDecodeError, "data URL payload is empty")
	}
	return Image{MIME: mime, Data: data}, nil
}
