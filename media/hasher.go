package media

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// hashChunkSize bounds memory per in-flight stream.
const hashChunkSize = 1024 * 1024

// ErrPayloadTooLarge is returned when a stream exceeds the configured byte
// ceiling. The partial scratch file has already been removed when this is
// returned.
var ErrPayloadTooLarge = errors.New("stream exceeds configured size limit")

// HashResult describes a fully consumed stream. ScratchPath points at the
// spooled bytes; the caller either commits it (rename into place) or calls
// Discard.
type HashResult struct {
	Sha256Hex   string
	SizeBytes   int64
	ScratchPath string
}

// Discard removes the scratch file. Safe to call after a successful commit;
// a missing file is not an error.
func (hr *HashResult) Discard() {
	if hr.ScratchPath == "" {
		return
	}
	if err := os.Remove(hr.ScratchPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to remove scratch file %s: %v\n", hr.ScratchPath, err)
	}
}

// HashToScratch streams r into a scratch file under scratchDir while
// computing its sha256, consuming at most maxBytes. The full payload is
// never held in memory. On any failure, including the ceiling being
// exceeded mid-stream, the scratch file is removed before returning.
func HashToScratch(r io.Reader, scratchDir string, maxBytes int64) (*HashResult, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %s: %w", scratchDir, err)
	}

	scratch, err := os.CreateTemp(scratchDir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file in %s: %w", scratchDir, err)
	}
	scratchPath := scratch.Name()

	cleanup := func() {
		scratch.Close()
		os.Remove(scratchPath)
	}

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	var written int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			written += int64(n)
			if maxBytes > 0 && written > maxBytes {
				cleanup()
				return nil, ErrPayloadTooLarge
			}
			if _, err := scratch.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("failed to write scratch file %s: %w", scratchPath, err)
			}
			hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return nil, fmt.Errorf("failed reading upload stream: %w", readErr)
		}
	}

	if err := scratch.Close(); err != nil {
		os.Remove(scratchPath)
		return nil, fmt.Errorf("failed to close scratch file %s: %w", scratchPath, err)
	}

	return &HashResult{
		Sha256Hex:   hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes:   written,
		ScratchPath: scratchPath,
	}, nil
}

// HashFile computes the sha256 and size of an existing file using the same
// bounded-memory streaming as HashToScratch, without spooling a copy.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.CopyBuffer(hasher, f, make([]byte, hashChunkSize))
	if err != nil {
		return "", 0, fmt.Errorf("failed hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
