package utils

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

func DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || DirectoryExists(dir) {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// DetectMIMEType guesses a file's MIME type from its extension, falling back
// to sniffing the first bytes.
func DetectMIMEType(path string, head []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(head)
}
