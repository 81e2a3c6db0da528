package attachments

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/veyra/pkg/backend"
)

// MaxFileSize is the largest file accepted for upload.
const MaxFileSize = 10 * 1024 * 1024

// FormatSize renders a byte count the way limits are shown to users.
func FormatSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case n >= mb && n%mb == 0:
		return fmt.Sprintf("%dMB", n/mb)
	case n >= mb:
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%dKB", n/kb)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

var (
	allowedMimePrefixes = []string{"image/", "video/", "audio/"}
	allowedExtensions   = []string{".pdf", ".doc", ".txt", ".csv", ".xlsx", ".ppt", ".pptx", ".zip", ".rar"}
)

// Accept is the accept list in the form used by file pickers.
func Accept() string {
	parts := make([]string, 0, len(allowedMimePrefixes)+len(allowedExtensions))
	for _, p := range allowedMimePrefixes {
		parts = append(parts, p+"*")
	}
	parts = append(parts, allowedExtensions...)
	return strings.Join(parts, ",")
}

// Allowed reports whether a file with this name and MIME type may be
// uploaded: any image, video or audio type, or one of the listed document
// and archive extensions.
func Allowed(name string, mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	for _, p := range allowedMimePrefixes {
		if strings.HasPrefix(mimeType, p) {
			return true
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range allowedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// DetectMimeType guesses the type from the extension, then from content.
func DetectMimeType(name string, head []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	if len(head) > 0 {
		t := http.DetectContentType(head)
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	return "application/octet-stream"
}

// FileFromPath describes a file on disk. The file is opened again when the
// upload starts.
func FileFromPath(path string) (*backend.File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not stat %s", path)
	}
	if fi.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}

	var head []byte
	if mime.TypeByExtension(filepath.Ext(path)) == "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open %s", path)
		}
		head = make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		head = head[:n]
		_ = f.Close()
	}

	return &backend.File{
		Name:     filepath.Base(path),
		MimeType: DetectMimeType(path, head),
		Size:     fi.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func FileFromBytes(name string, mimeType string, data []byte) *backend.File {
	if mimeType == "" {
		mimeType = DetectMimeType(name, data)
	}
	return &backend.File{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
