package biosecure

import (
	"fmt"
	"strings"
)

// Input validation helpers

// ValidateSize checks if a size parameter is valid
func ValidateSize(size int, name string, minSize, maxSize int) error {
	if size < 0 {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: "size cannot be negative",
		}
	}
	if minSize >= 0 && size < minSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too small: got %d, minimum is %d", size, minSize),
		}
	}
	if maxSize > 0 && size > maxSize {
		return &ValidationError{
			Field:   name,
			Value:   size,
			Message: fmt.Sprintf("size too large: got %d, maximum is %d", size, maxSize),
		}
	}
	return nil
}

// ValidateNonce checks if a nonce has the expected size
func ValidateNonce(nonce []byte, size int) error {
	if nonce == nil {
		return &ValidationError{
			Field:   "nonce",
			Message: "nonce cannot be nil",
		}
	}

	if len(nonce) != size {
		return &ValidationError{
			Field:   "nonce",
			Value:   len(nonce),
			Message: fmt.Sprintf("invalid nonce size: got %d bytes, expected %d bytes", len(nonce), size),
		}
	}

	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
			Err:     ErrInvalidKey,
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
			Err:     ErrInvalidKey,
		}
	}

	return nil
}

// ValidateIdentifier checks a caller-supplied entry identifier or file path.
// Entries owned by the library cannot be addressed by callers.
func ValidateIdentifier(id string) error {
	if id == "" {
		return &ValidationError{
			Field:   "id",
			Message: "identifier cannot be empty",
		}
	}
	if id == ApplicationKeyEntry || id == KeyStoreIVEntry {
		return &ValidationError{
			Field:   "id",
			Value:   id,
			Message: "identifier is reserved",
		}
	}
	if strings.ContainsRune(id, 0) {
		return &ValidationError{
			Field:   "id",
			Value:   id,
			Message: "identifier cannot contain NUL",
		}
	}
	return nil
}

// ValidateFilePath checks a file path for the file store. Paths are relative
// to the store root and may not escape it.
func ValidateFilePath(path string) error {
	if path == "" {
		return &ValidationError{
			Field:   "path",
			Message: "file path cannot be empty",
		}
	}
	for _, part := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if part == ".." {
			return &ValidationError{
				Field:   "path",
				Value:   path,
				Message: "file path cannot contain '..'",
			}
		}
	}
	return nil
}
