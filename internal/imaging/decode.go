package imaging

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"strings"

	"github.com/disintegration/imaging"
)

// stripDataURI removes a "data:image/...;base64," prefix if present.
func stripDataURI(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.Contains(s[:i], "base64") {
		return s[i+1:]
	}
	return s
}

// DecodeBase64 decodes a base64-encoded image into an RGB raster.
// A data URI prefix is tolerated. Any decoding failure wraps
// ErrInvalidImage so callers can map it to a client error.
func DecodeBase64(data string) (*image.NRGBA, error) {
	payload := stripDataURI(data)

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	// Clone normalizes any source color model (RGBA, YCbCr, paletted)
	// into NRGBA.
	return imaging.Clone(img), nil
}

// Hash returns the MD5 hex digest of the base64 payload, used as the
// request-log key for deduplicating repeated submissions.
func Hash(data string) string {
	payload := stripDataURI(data)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
