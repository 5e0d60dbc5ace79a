package media

import (
	"fmt"
	"io"
	"os"
)

// CopyFile copies src to dst byte for byte, replacing dst.
func CopyFile(src, dst string) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source file: %w", err)
	}
	if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
		return 0, fmt.Errorf("%w: %s", ErrSameFile, dst)
	}

	in, err := os.Open(src) // #nosec G304 - src is the validated input path
	if err != nil {
		return 0, fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) // #nosec G302 G304
	if err != nil {
		return 0, fmt.Errorf("create destination file: %w", err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close destination file: %w", err)
	}
	return n, nil
}
