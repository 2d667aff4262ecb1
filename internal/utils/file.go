package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxFilenameLength caps sanitized filenames, in characters
const MaxFilenameLength = 200

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s.-]`)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile checks if a file has an image extension
func IsImageFile(filename string) bool {
	switch GetFileExtension(filename) {
	case "jpg", "jpeg", "png", "gif", "bmp", "tiff", "webp":
		return true
	}
	return false
}

// GenerateOutputFilename builds the output path for filename in outputDir.
// The filename is sanitized and its extension replaced by format.
func GenerateOutputFilename(outputDir, filename, format string) string {
	safe := SanitizeFilename(filename)
	nameWithoutExt := strings.TrimSuffix(safe, filepath.Ext(safe))
	if nameWithoutExt == "" {
		nameWithoutExt = "unnamed"
	}
	if format == "" {
		format = "png"
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s.%s", nameWithoutExt, strings.ToLower(format)))
}

// ListImageFiles recursively lists all image files in a directory
func ListImageFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && IsImageFile(path) {
			files = append(files, path)
		}

		return nil
	})

	return files, err
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// SanitizeFilename keeps only letters, digits, underscores, whitespace, dots and dashes,
// replacing anything else (path separators included) with underscores.
// Leading and trailing spaces and dots are removed and the result is capped
// at MaxFilenameLength characters. An empty result becomes "unnamed".
func SanitizeFilename(filename string) string {
	result := unsafeFilenameChars.ReplaceAllString(filename, "_")
	result = strings.Trim(result, " .")

	if utf8.RuneCountInString(result) > MaxFilenameLength {
		ext := filepath.Ext(result)
		runes := []rune(strings.TrimSuffix(result, ext))
		keep := MaxFilenameLength - utf8.RuneCountInString(ext)
		if keep < 1 {
			result = string([]rune(result)[:MaxFilenameLength])
		} else {
			result = string(runes[:keep]) + ext
		}
	}

	if result == "" {
		return "unnamed"
	}
	return result
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
