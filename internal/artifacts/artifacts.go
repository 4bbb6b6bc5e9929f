package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/viant/afs"
	_ "github.com/viant/afsc/s3"

	"github.com/Brownie44l1/caption-api/internal/apperr"
)

var fileSystem = afs.New()

// ReadBytes reads the whole startup artifact at url. Local paths and any
// scheme registered with afs (file://, s3://, mem://) are accepted. An empty
// artifact is an error.
func ReadBytes(ctx context.Context, name, url string) ([]byte, error) {
	if url == "" {
		return nil, apperr.Startup(name, errors.New("no location configured"))
	}
	data, err := Read(ctx, url)
	if err != nil {
		return nil, apperr.Startup(name, err)
	}
	if len(data) == 0 {
		return nil, apperr.Startup(name, fmt.Errorf("%s is empty", url))
	}
	return data, nil
}

// Read returns the content at url, which may be empty.
func Read(ctx context.Context, url string) (data []byte, err error) {
	file, err := fileSystem.OpenURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	defer func(file io.Closer) {
		if closeErr := file.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}(file)

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, file); err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return buf.Bytes(), nil
}

// Exists reports whether an artifact is present at url.
func Exists(ctx context.Context, url string) (bool, error) {
	return fileSystem.Exists(ctx, url)
}
