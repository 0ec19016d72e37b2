package service

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

func getImageDimensions(data []byte) (int, int, string, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	return config.Width, config.Height, format, nil
}

// detectMimeType sniffs the media type from content, ignoring parameters.
func detectMimeType(data []byte) string {
	mt := mimetype.Detect(data)
	if mt == nil {
		return "application/octet-stream"
	}
	return strings.SplitN(mt.String(), ";", 2)[0]
}
