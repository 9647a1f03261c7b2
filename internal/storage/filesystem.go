package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// maxOptimizedDim bounds the longest edge of an optimized derivative.
const maxOptimizedDim = 2048

// optimizedPrefix is where derivatives live relative to the store root.
const optimizedPrefix = "optimized"

// FileStore persists objects on the local filesystem. It backs development
// and test environments where a managed object store is not available.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	return s.basePath
}

// Put writes data at key and returns the canonicalized key. Keys are cleaned
// to prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// Read returns the object bytes at key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Copy duplicates an object within the store.
func (s *FileStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := s.Read(ctx, srcKey)
	if err != nil {
		return err
	}
	_, err = s.Put(ctx, dstKey, data)
	return err
}

// Optimize re-encodes the object at key, downscaling so its longest edge is
// at most maxOptimizedDim, and stores the derivative under optimizedPrefix.
// Non-image objects yield an error; callers continue with the original key.
func (s *FileStore) Optimize(ctx context.Context, key string) (string, error) {
	data, err := s.Read(ctx, key)
	if err != nil {
		return "", err
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if longest := max(width, height); longest > maxOptimizedDim {
		scale := float64(maxOptimizedDim) / float64(longest)
		src = downscale(src, int(float64(width)*scale), int(float64(height)*scale))
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, src, &jpeg.Options{Quality: 85})
	default:
		err = png.Encode(&buf, src)
	}
	if err != nil {
		return "", fmt.Errorf("storage: encode image: %w", err)
	}

	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, path.Join(optimizedPrefix, cleanKey), buf.Bytes())
}

// downscale resamples src to the given dimensions with nearest-neighbor
// sampling. Good enough for a size-bounded working copy.
func downscale(src image.Image, width, height int) image.Image {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
