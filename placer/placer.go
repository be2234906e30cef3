// Package placer puts matched raw files into the output tree by copy,
// hardlink or symlink.
package placer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Mode selects how a matched file lands in the output directory.
type Mode string

const (
	ModeCopy     Mode = "copy"
	ModeHardlink Mode = "hardlink"
	ModeSymlink  Mode = "symlink"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCopy, ModeHardlink, ModeSymlink:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown placement mode %q (use copy, hardlink or symlink)", s)
}

// UniqueDest returns a path in dir for name that does not collide with an
// existing file, appending __2, __3, ... before the extension when needed.
func UniqueDest(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	dst := filepath.Join(dir, name)
	if _, err := os.Lstat(dst); os.IsNotExist(err) {
		return dst, nil
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for n := 2; ; n++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s__%d%s", stem, n, ext))
		if _, err := os.Lstat(cand); os.IsNotExist(err) {
			return cand, nil
		}
	}
}

// RelativeUnder returns path relative to root, falling back to the base name
// when path does not live under root.
func RelativeUnder(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return rel
}

// Place puts src at dst using the given mode. The destination directory must
// already exist (UniqueDest creates it).
func Place(src, dst string, mode Mode) error {
	switch mode {
	case ModeCopy:
		return copyFile(src, dst)
	case ModeHardlink:
		if err := removeIfPresent(dst); err != nil {
			return err
		}
		if err := os.Link(src, dst); err != nil {
			return fmt.Errorf("hardlink %s: %w", dst, err)
		}
		return nil
	case ModeSymlink:
		if err := removeIfPresent(dst); err != nil {
			return err
		}
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("symlink %s: %w", dst, err)
		}
		return nil
	}
	return fmt.Errorf("unknown placement mode %q", mode)
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// copyFile copies contents and preserves the source modification time, so a
// copied original still carries its capture-era timestamp.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Chtimes(dst, st.ModTime(), st.ModTime())
}
