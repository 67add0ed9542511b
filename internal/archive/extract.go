// Package archive extracts the gzipped tarballs the producer uploads
// (state deltas, diffs, the static DB). Unlike the usual cd-then-untar
// approach, every entry path is resolved against an explicit destination
// root, so extraction never touches the process working directory.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zilliqa/persistence-sync/libs/log"
)

// ExtractGzippedFiles extracts every *.tar.gz directly inside dir into dest
// and deletes it afterward, returning the number of archives extracted
// cleanly. All other regular files directly inside dir are deleted as well.
// A corrupt archive aborts only that archive; the pass continues and the
// broken file is still removed so no .tar.gz survives.
func ExtractGzippedFiles(logger log.Logger, dir, dest string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading archive directory %q: %w", dir, err)
	}

	extracted := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if strings.HasSuffix(entry.Name(), "tar.gz") {
			if err := extractArchive(path, dest); err != nil {
				logger.Error("extraction aborted", "archive", path, "err", err)
			} else {
				extracted++
			}
		}

		if err := os.Remove(path); err != nil {
			logger.Error("failed to remove file", "path", path, "err", err)
		}
	}

	return extracted, nil
}

// ExtractArchive extracts a single tar.gz into dest.
func ExtractArchive(path, dest string) error {
	return extractArchive(path, dest)
}

func extractArchive(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}

		if err := writeEntry(tr, hdr, dest); err != nil {
			return fmt.Errorf("entry %q: %w", hdr.Name, err)
		}
	}
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	target, err := entryPath(dest, hdr.Name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()); err != nil {
			return err
		}

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}

		_, err = io.Copy(out, tr)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		// recreate rather than leave a stale target
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return err
		}

	case tar.TypeLink:
		source, err := entryPath(dest, hdr.Linkname)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		if err := os.Link(source, target); err != nil {
			return err
		}

	default:
		// character devices, fifos etc. never occur in persistence
		// archives; skip without failing the archive
		return nil
	}

	// preserve modification times; symlink times are not portable
	if hdr.Typeflag != tar.TypeSymlink && !hdr.ModTime.IsZero() {
		atime := hdr.AccessTime
		if atime.IsZero() {
			atime = hdr.ModTime
		}
		if err := os.Chtimes(target, atime, hdr.ModTime); err != nil {
			return err
		}
	}

	return nil
}

// entryPath resolves an archive entry name below dest, rejecting absolute
// paths and anything escaping the destination root.
func entryPath(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path %q", name)
	}
	return filepath.Join(dest, clean), nil
}
