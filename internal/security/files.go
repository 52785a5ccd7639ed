package security

import (
	"fmt"
	"io"
	"os"
	"time"
)

// CheckFileSize returns ErrFileTooLarge (wrapped) when path exceeds max bytes.
// A non-positive max disables the check.
func CheckFileSize(path string, max int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if max > 0 && info.Size() > max {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, path, info.Size(), max)
	}
	return nil
}

// Backup copies path to "<path>.backup.<unix seconds>" and returns the copy's
// path. It returns "" with no error when path does not exist yet.
func Backup(path string) (string, error) {
	return backupAt(path, time.Now())
}

func backupAt(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open for backup: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat for backup: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("backup %s: is a directory", path)
	}

	dst := fmt.Sprintf("%s.backup.%d", path, now.Unix())
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close backup: %w", err)
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return dst, nil
}
