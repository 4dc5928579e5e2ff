// Package artifact writes job outputs to durable storage. Every write goes
// to a temporary file in the destination directory and is renamed into
// place, so readers never see a partial file.
package artifact

import (
	"bufio"
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kostaslazaros/cpgenius/internal/dataset"
)

// #region atomic

// WriteAtomic creates path with the bytes produced by write.
func WriteAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes a header and rows.
func WriteCSV(path string, header []string, rows [][]string) error {
	return WriteAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		return nil
	})
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// #endregion

// #region read

// ReadColumn returns the values of column in file order.
func ReadColumn(path, column string) ([]string, error) {
	tbl, _, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	for j, name := range tbl.Header {
		if name != column {
			continue
		}
		out := make([]string, len(tbl.Rows))
		for i, row := range tbl.Rows {
			out[i] = row[j]
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: no column %q", path, column)
}

// Exists reports whether path exists as a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FileSHA1 returns the hex SHA1 of the file contents.
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// #endregion

// FormatFloat renders a score with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// IsNotExist reports whether err means a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
