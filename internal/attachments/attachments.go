// Package attachments validates message attachments before they go on the
// wire. Validation happens per file: a rejected file never blocks the
// remaining valid ones.
package attachments

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
)

// MaxFileSize is the largest attachment accepted, in bytes.
const MaxFileSize = 20 * 1024 * 1024

// allowedMIMETypes lists the attachment content types accepted for upload.
var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// File is one attachment candidate as picked by the user.
type File struct {
	Name string
	MIME string
	Size int64
	Data []byte
}

// Preview is the accepted form of an attachment: exactly one Preview exists
// per accepted file, carrying the data URL sent over the realtime channel.
type Preview struct {
	Name    string
	MIME    string
	DataURL string
}

// Validate checks a single file against the MIME allow-list and the size
// cap. It returns a descriptive error for rejected files.
func Validate(f File) error {
	if !allowedMIMETypes[f.MIME] {
		return fmt.Errorf("file type not allowed: %s", f.MIME)
	}
	if f.Size > MaxFileSize {
		return fmt.Errorf("file too large: %d bytes (limit %d)", f.Size, MaxFileSize)
	}
	return nil
}

// DataURL encodes file bytes as a data URL for transport.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL extracts the raw bytes from a data URL or bare base64
// payload, tolerating the header-less form some clients send.
func DecodeDataURL(s string) ([]byte, error) {
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

// Process validates a batch of files and returns one preview per accepted
// file. Rejected files are logged and skipped without affecting the rest.
func Process(files []File, logger *slog.Logger) []Preview {
	if logger == nil {
		logger = slog.Default()
	}

	var previews []Preview
	for _, f := range files {
		if err := Validate(f); err != nil {
			logger.Warn("Rejecting attachment",
				slog.String("name", f.Name),
				slog.String("err", err.Error()))
			continue
		}
		previews = append(previews, Preview{
			Name:    f.Name,
			MIME:    f.MIME,
			DataURL: DataURL(f.MIME, f.Data),
		})
	}
	return previews
}
