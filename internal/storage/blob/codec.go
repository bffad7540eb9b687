package blob

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/inferloop/tsforecast/pkg/errors"
)

// Compress gzips data
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	if _, err := gzWriter.Write(data); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to compress artifact")
	}
	if err := gzWriter.Close(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to compress artifact")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to decompress artifact")
	}
	defer gzReader.Close()

	decompressed, err := io.ReadAll(gzReader)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to read decompressed artifact")
	}
	return decompressed, nil
}

// ValidateKey rejects keys that are empty, absolute or escape the store root
func ValidateKey(key string) error {
	if key == "" {
		return errors.NewValidationError(errors.CodeMissingField, "model key cannot be empty")
	}
	clean := path.Clean(key)
	if strings.HasPrefix(key, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("model key %q must be a relative path inside the store", key))
	}
	return nil
}

// NotFound reports a missing key
func NotFound(key string) error {
	return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
		fmt.Sprintf("model %q not found", key))
}

// NotConnected reports use of a store before Connect or after Close
func NotConnected(backend string) error {
	return errors.NewStorageError(errors.CodeConnectionFailed, fmt.Sprintf("%s store is not connected", backend))
}
