package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = []string{"jpg", "jpeg", "png", "gif", "webp"}

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

// IsImageFile checks if a file has a decodable image extension. Debug
// snapshots written by this tool are excluded so a watched directory can
// double as the debug directory.
func IsImageFile(filename string) bool {
	base := filepath.Base(filename)
	if strings.HasPrefix(base, ".") || isSnapshot(base) {
		return false
	}
	ext := GetFileExtension(base)
	for _, imgExt := range imageExts {
		if ext == imgExt {
			return true
		}
	}
	return false
}

func isSnapshot(base string) bool {
	name := strings.TrimSuffix(base, filepath.Ext(base))
	for _, suffix := range []string{"-screenshot", "-cropped", "-binarized", "-processed"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// GenerateOutputFilename generates an output filename based on input and parameters
func GenerateOutputFilename(inputFile, outputDir, suffix, format string) string {
	baseName := filepath.Base(inputFile)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(outputDir, fmt.Sprintf("%s%s.%s", nameWithoutExt, suffix, format))
}

// GenerateRelativeOutputFilename is GenerateOutputFilename for inputs found
// under baseDir: the input's subdirectories are kept below outputDir, so
// a/x.png and b/x.png do not collide. Inputs outside baseDir, or an empty
// baseDir, fall back to the base name.
func GenerateRelativeOutputFilename(inputFile, baseDir, outputDir, suffix, format string) string {
	if baseDir == "" {
		return GenerateOutputFilename(inputFile, outputDir, suffix, format)
	}
	rel, err := filepath.Rel(baseDir, inputFile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return GenerateOutputFilename(inputFile, outputDir, suffix, format)
	}
	return GenerateOutputFilename(inputFile, filepath.Join(outputDir, filepath.Dir(rel)), suffix, format)
}

// ListImageFiles recursively lists all image files in a directory, sorted
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

	sort.Strings(files)
	return files, err
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && info.IsDir()
}
