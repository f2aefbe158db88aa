package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UniqueDestination picks a collision-free path for filename inside dir. The
// first fallback appends a short content-hash disambiguator so the same
// content always lands on the same alternative name; a numeric suffix covers
// the pathological case of that colliding too.
func UniqueDestination(dir, filename, sha256Hex string) string {
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	short := sha256Hex
	if len(short) > 8 {
		short = short[:8]
	}

	candidate = filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, short, ext))
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stem, short, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// MoveFile renames src to dst, falling back to copy+delete when the rename
// crosses filesystems (scratch and canonical storage may be on different
// mounts).
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s for move: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s for move: %w", dst, err)
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finish copy to %s: %w", dst, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}
	return nil
}
