// Package docstore holds the raw PDF documents the service indexes.
package docstore

import (
	"errors"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidName = errors.New("invalid document name")
)

const Extension = ".pdf"

type Info struct {
	Name     string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ValidateName accepts plain file names with a .pdf extension.
func ValidateName(name string) error {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if !strings.EqualFold(path.Ext(name), Extension) {
		return ErrInvalidName
	}
	return nil
}

func isDocument(name string) bool {
	return strings.EqualFold(path.Ext(name), Extension) && !strings.HasPrefix(name, ".")
}
