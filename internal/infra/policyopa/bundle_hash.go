package policyopa

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"credledger/internal/infra/crypto"
)

type bundleHashPayload struct {
	Files []bundleHashFile `json:"files"`
}

type bundleHashFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ComputeBundleHash digests every .rego and data.json file under path.
func ComputeBundleHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	var files []bundleHashFile
	if info.IsDir() {
		files, err = collectBundleFiles(os.DirFS(path))
		if err != nil {
			return "", err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		files = []bundleHashFile{{Path: filepath.Base(path), SHA256: crypto.Hash(data).Hex()}}
	}
	canonical, err := crypto.CanonicalizeAny(bundleHashPayload{Files: files})
	if err != nil {
		return "", err
	}
	return crypto.Hash(canonical).Hex(), nil
}

func collectBundleFiles(fsys fs.FS) ([]bundleHashFile, error) {
	files := []bundleHashFile{}
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == "." {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !(strings.HasSuffix(base, ".rego") || base == "data.json") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files = append(files, bundleHashFile{Path: filepath.ToSlash(path), SHA256: crypto.Hash(data).Hex()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
