package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Format identifies the archive compression format
type Format string

const (
	FormatGzip Format = "gzip"
	FormatLZ4  Format = "lz4"
)

// ParseFormat maps a configuration string to a Format
func ParseFormat(s string) (Format, error) {
	switch s {
	case "gzip", "gz", "":
		return FormatGzip, nil
	case "lz4":
		return FormatLZ4, nil
	default:
		return "", fmt.Errorf("unsupported archive format %q", s)
	}
}

// Create assembles the contents of dir into a compressed tar archive named
// name inside dir, excluding the archive's own file from its listing.
// Entry paths are relative with forward slashes and no leading "./".
// Compression level is fixed at the fastest setting; throughput matters
// more than ratio for nightly conversion runs.
func Create(dir, name string, format Format) (string, error) {
	outPath := filepath.Join(dir, name)
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("cannot create archive %s: %w", outPath, err)
	}
	defer out.Close()

	compressor, err := newCompressor(out, format)
	if err != nil {
		return "", err
	}

	tw := tar.NewWriter(compressor)
	if err := addTree(tw, dir, name); err != nil {
		tw.Close()
		compressor.Close()
		return "", err
	}

	// Close order matters: tar trailer, then compressor flush, then file.
	// Each close is a distinct checked failure.
	if err := tw.Close(); err != nil {
		compressor.Close()
		return "", fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return "", fmt.Errorf("finalizing compression stream: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing archive file: %w", err)
	}
	return outPath, nil
}

func newCompressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case FormatGzip:
		zw, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
		if err != nil {
			return nil, fmt.Errorf("cannot create gzip writer: %w", err)
		}
		return zw, nil
	case FormatLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

func addTree(tw *tar.Writer, dir, exclude string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		// The archive must never recursively include its own output.
		if rel == exclude {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", rel, err)
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("writing tar entry %s: %w", rel, err)
		}
		return nil
	})
}

// Extract decompresses and untars the archive at srcPath into destDir.
// Decompression and extraction are explicit sequential steps with separate
// error checks rather than a shell pipe whose intermediate failures could
// be masked.
func Extract(srcPath, destDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("cannot open archive %s: %w", srcPath, err)
	}
	defer f.Close()

	reader, err := newDecompressor(f, srcPath)
	if err != nil {
		return err
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar stream from %s: %w", srcPath, err)
		}
		if err := extractEntry(tr, hdr, destDir); err != nil {
			return err
		}
	}
	return nil
}

func newDecompressor(r io.Reader, path string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".tgz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
		return zr, nil
	case strings.HasSuffix(path, ".lz4"):
		return lz4.NewReader(r), nil
	default:
		return r, nil
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, destDir string) error {
	name := filepath.FromSlash(hdr.Name)
	if strings.Contains(name, "..") {
		return fmt.Errorf("refusing archive entry with path traversal: %s", hdr.Name)
	}
	target := filepath.Join(destDir, name)

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, hdr.FileInfo().Mode().Perm())
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		return out.Close()
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	default:
		// Hard links, devices and the like do not appear in database dumps.
		return fmt.Errorf("unsupported archive entry type %c for %s", hdr.Typeflag, hdr.Name)
	}
}
