// Package upload validates and stores student submissions.
package upload

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/shrimpsizemoose/taslim/internal/models"
)

var fileTypeExtensions = map[string][]string{
	"pdf":   {".pdf"},
	"doc":   {".doc", ".docx"},
	"ppt":   {".ppt", ".pptx"},
	"xls":   {".xls", ".xlsx"},
	"img":   {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg"},
	"video": {".mp4", ".avi", ".mov", ".wmv", ".mkv", ".flv", ".webm", ".m4v"},
	"audio": {".mp3", ".wav", ".m4a", ".aac", ".ogg", ".wma", ".flac"},
	"zip":   {".zip", ".rar", ".7z", ".tar", ".gz"},
}

const maxFileNameLength = 255

// Extensions returns the extension set for a tag; unknown tags have none.
func Extensions(tag string) []string {
	return fileTypeExtensions[strings.ToLower(tag)]
}

// MatchFileType returns the lowercased extension of name and the first allowed
// tag that covers it.
func MatchFileType(name string, allowedTags []string) (ext string, tag string, ok bool) {
	ext = strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "", "", false
	}
	for _, t := range allowedTags {
		for _, e := range Extensions(t) {
			if e == ext {
				return ext, strings.ToLower(t), true
			}
		}
	}
	return ext, "", false
}

// CheckFileName rejects names that could escape the blob directory or confuse
// downstream tools.
func CheckFileName(name string) error {
	switch {
	case name == "", name == ".", len(name) > maxFileNameLength:
		return models.NewError(models.CodeFileNameUnsafe, "bad file name length")
	case strings.Contains(name, ".."):
		return models.NewError(models.CodeFileNameUnsafe, "file name contains ..")
	case strings.ContainsAny(name, `/\`):
		return models.NewError(models.CodeFileNameUnsafe, "file name contains a path separator")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return models.NewError(models.CodeFileNameUnsafe, "file name contains control characters")
		}
	}
	return nil
}
