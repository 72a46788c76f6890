// Package retrieve stages collector bundles — kape.zip, uac.zip, deploy
// scripts — onto local disk before they are handed to the put-file
// repository for upload to an agent's session. A bundle
// source can be a local path or any URL hashicorp/go-getter understands:
// http(s), s3, gcs, git, or an archive that go-getter auto-extracts.
package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/0x4n6nerd/rtrtriage/errors"
)

// Bundle is a collector bundle staged on local disk and ready for upload.
type Bundle struct {
	Name      string
	LocalPath string
	SHA256    string
	fetched   bool
	cleanup   func()
}

// Cleanup removes any temporary directory created while fetching a remote
// bundle. Safe to call multiple times; a no-op for local sources.
func (b *Bundle) Cleanup() {
	if b.cleanup != nil {
		b.cleanup()
		b.cleanup = nil
	}
}

// Resolve stages source (a local path or a go-getter URL) under name and
// returns a Bundle describing where it landed and its content hash.
func Resolve(ctx context.Context, name, source string, log *zap.SugaredLogger) (*Bundle, error) {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(source, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.Wrapf(err, "detect source type for bundle %s", name)
	}

	parsed, err := url.Parse(detected)
	if err != nil {
		return nil, errors.Wrapf(err, "parse detected source for bundle %s", name)
	}

	if parsed.Scheme == "" || parsed.Scheme == "file" {
		return resolveLocal(name, source, parsed, pwd)
	}

	return fetchRemote(ctx, name, detected, log)
}

func resolveLocal(name, input string, parsed *url.URL, pwd string) (*Bundle, error) {
	localPath := input
	if parsed.Scheme == "file" {
		localPath = parsed.Path
	}

	if strings.HasPrefix(localPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "expand home directory")
		}
		localPath = filepath.Join(home, localPath[2:])
	}
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(pwd, localPath)
	}

	sum, err := hashFile(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "hash local bundle %s", name)
	}

	return &Bundle{
		Name:      name,
		LocalPath: localPath,
		SHA256:    sum,
		cleanup:   func() {},
	}, nil
}

func fetchRemote(ctx context.Context, name, detected string, log *zap.SugaredLogger) (*Bundle, error) {
	tempDir, err := os.MkdirTemp("", fmt.Sprintf("rtrtriage-bundle-%s-*", sanitizeName(name)))
	if err != nil {
		return nil, errors.Wrap(err, "create temp dir for bundle fetch")
	}

	dst := filepath.Join(tempDir, sanitizeName(name))
	client := &getter.Client{
		Ctx:     ctx,
		Src:     detected,
		Dst:     dst,
		Mode:    getter.ClientModeAny,
		Getters: getter.Getters,
	}

	if log != nil {
		log.Infow("fetching collector bundle", "name", name, "source", detected, "dest", dst)
	}

	if err := client.Get(); err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.Wrapf(err, "fetch bundle %s from %s", name, detected)
	}

	localPath, err := resolveFetchedPath(dst)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.Wrapf(err, "locate fetched bundle %s", name)
	}

	sum, err := hashFile(localPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.Wrapf(err, "hash fetched bundle %s", name)
	}

	return &Bundle{
		Name:      name,
		LocalPath: localPath,
		SHA256:    sum,
		fetched:   true,
		cleanup: func() {
			if log != nil {
				log.Debugw("cleaning up fetched bundle", "path", tempDir)
			}
			os.RemoveAll(tempDir)
		},
	}, nil
}

// resolveFetchedPath handles go-getter's ClientModeAny, which may leave
// dst as a directory (archive extraction) rather than a single file; in
// that case we require exactly one regular file inside it.
func resolveFetchedPath(dst string) (string, error) {
	info, err := os.Stat(dst)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return dst, nil
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		return "", err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(dst, e.Name()))
		}
	}
	if len(files) != 1 {
		return "", errors.Newf("expected exactly one file in extracted bundle, found %d", len(files))
	}
	return files[0], nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sanitizeName(name string) string {
	replacer := strings.NewReplacer("/", "-", " ", "-", ":", "-")
	clean := replacer.Replace(name)
	if clean == "" {
		clean = "bundle"
	}
	return clean
}
