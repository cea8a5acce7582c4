// Package imagebank manages ECG image files: unlabeled uploads wait in
// bankPhotos/ and curated images live in graded/<category>[/<subcategory>]/.
package imagebank

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

const (
	unlabeledDir = "bankPhotos"
	gradedDir    = "graded"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// Bank is an image directory tree on an afero filesystem.
type Bank struct {
	fs   afero.Fs
	root string
}

// New creates a Bank rooted at root and makes sure both subdirectories exist.
func New(fs afero.Fs, root string) (*Bank, error) {
	for _, dir := range []string{unlabeledDir, gradedDir} {
		if err := fs.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Bank{fs: fs, root: root}, nil
}

// NewOS creates a Bank on the local disk.
func NewOS(root string) (*Bank, error) {
	return New(afero.NewOsFs(), root)
}

// HTTPFS exposes the image tree for static serving.
func (b *Bank) HTTPFS() http.FileSystem {
	return afero.NewHttpFs(afero.NewBasePathFs(b.fs, b.root))
}

// ListUnclassified returns the image file names waiting for curation, sorted.
func (b *Bank) ListUnclassified() ([]string, error) {
	infos, err := afero.ReadDir(b.fs, filepath.Join(b.root, unlabeledDir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if fi.IsDir() || !imageExts[strings.ToLower(filepath.Ext(fi.Name()))] {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// RandomUnclassified picks one waiting image.
func (b *Bank) RandomUnclassified() (string, error) {
	names, err := b.ListUnclassified()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", model.ErrImageNotFound
	}
	return names[rand.IntN(len(names))], nil
}

// UnclassifiedPath is the URL-style path of a waiting image relative to the root.
func UnclassifiedPath(name string) string {
	return unlabeledDir + "/" + name
}

// GradedPath is the URL-style path of a curated image relative to the root.
func GradedPath(category model.Category, subcategory, name string) string {
	parts := []string{gradedDir, string(category)}
	if subcategory != "" {
		parts = append(parts, subcategory)
	}
	return strings.Join(append(parts, name), "/")
}

// Move files a waiting image under its category directory.
func (b *Bank) Move(name string, category model.Category, subcategory string) error {
	if err := checkName(name); err != nil {
		return err
	}
	src := filepath.Join(b.root, unlabeledDir, name)
	dst := filepath.Join(b.root, filepath.FromSlash(GradedPath(category, subcategory, name)))
	return b.move(name, src, dst)
}

// Restore undoes Move, returning a graded image to the waiting directory.
func (b *Bank) Restore(name string, category model.Category, subcategory string) error {
	if err := checkName(name); err != nil {
		return err
	}
	src := filepath.Join(b.root, filepath.FromSlash(GradedPath(category, subcategory, name)))
	dst := filepath.Join(b.root, unlabeledDir, name)
	return b.move(name, src, dst)
}

func (b *Bank) move(name, src, dst string) error {
	if _, err := b.fs.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file %q: %w", name, model.ErrImageNotFound)
		}
		return err
	}
	if err := b.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := b.fs.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across devices; fall back to copy and remove.
	if err := copyFile(b.fs, src, dst); err != nil {
		return fmt.Errorf("move %q: %w", name, err)
	}
	return b.fs.Remove(src)
}

// Exists reports whether a waiting image with this name exists.
func (b *Bank) Exists(name string) bool {
	if checkName(name) != nil {
		return false
	}
	ok, _ := afero.Exists(b.fs, filepath.Join(b.root, unlabeledDir, name))
	return ok
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("file %q: %w", name, model.ErrImageNotFound)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
