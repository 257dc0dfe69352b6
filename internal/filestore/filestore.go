package filestore

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// MaxFileSize is the upload ceiling in bytes.
const MaxFileSize = 10 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".txt": true,
	".xls": true, ".xlsx": true, ".png": true, ".jpg": true,
	".jpeg": true, ".gif": true, ".zip": true, ".csv": true,
	".ppt": true, ".pptx": true,
}

// AllowedExtensions returns the whitelist sorted for display.
func AllowedExtensions() []string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ValidateExtension checks the filename's extension against the whitelist,
// case-insensitively.
func ValidateExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("file type %q not allowed. Allowed types: %s", ext, strings.Join(AllowedExtensions(), ", "))
	}
	return nil
}

// ValidateSize enforces the upload ceiling, reporting sizes in MiB.
func ValidateSize(size int64) error {
	if size > MaxFileSize {
		return fmt.Errorf("file too large (%.2f MB). Maximum size allowed: %.0f MB",
			float64(size)/(1024*1024), float64(MaxFileSize)/(1024*1024))
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^\w\-.]`)

// SanitizeFilename strips directory components and unsafe characters and
// truncates the base name to 100 characters, preserving the extension.
func SanitizeFilename(filename string) string {
	// Some clients submit full Windows paths.
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)
	filename = strings.ReplaceAll(filename, " ", "_")
	filename = unsafeChars.ReplaceAllString(filename, "")
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)
	if len(name) > 100 {
		name = name[:100]
	}
	return name + ext
}

// OutputPath derives the storage path for one submission: segmented by
// organization, task and user, with the final name replaced by a random
// token so the original filename never reaches the storage layer.
func OutputPath(orgID, taskID, userID, filename string) string {
	ext := strings.ToLower(filepath.Ext(SanitizeFilename(filename)))
	return path.Join("task_outputs",
		"org_"+orgID,
		"task_"+taskID,
		"user_"+userID,
		uuid.New().String()+ext)
}

// Store persists blobs under a root directory, addressed by the relative
// paths OutputPath produces.
type Store struct {
	Root string
}

func (s Store) abs(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Save writes the blob and returns the number of bytes written.
func (s Store) Save(rel string, src io.Reader) (int64, error) {
	full := s.abs(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(full)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(full)
		return 0, err
	}
	return n, nil
}

// Open opens a stored blob for reading.
func (s Store) Open(rel string) (*os.File, error) {
	return os.Open(s.abs(rel))
}

// Remove deletes a stored blob. Missing files are not an error.
func (s Store) Remove(rel string) error {
	err := os.Remove(s.abs(rel))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
