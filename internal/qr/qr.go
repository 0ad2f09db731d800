package qr

import (
	"encoding/base64"

	"github.com/samber/oops"
	"github.com/skip2/go-qrcode"
)

const (
	dataURLPrefix = "data:image/png;base64,"
	imageSize     = 256
)

// EncodeDataURL renders a pairing code as a PNG data URL that browsers can
// show directly in an <img> tag.
func EncodeDataURL(code string) (string, error) {
	if code == "" {
		return "", oops.In("qr").Errorf("empty pairing code")
	}

	png, err := qrcode.Encode(code, qrcode.Medium, imageSize)
	if err != nil {
		return "", oops.In("qr").Wrapf(err, "encode png")
	}

	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
