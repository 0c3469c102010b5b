// Package seed supplies the baseline framework template. The template backs
// new sessions and reset-to-baseline, and is published once as the default
// document when the store is empty.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"monument/api/internal/framework"
)

//go:embed template.json
var embeddedTemplate []byte

// ObjectConfig points at an S3-compatible object holding the template.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Object    string
}

func (c ObjectConfig) configured() bool {
	return c.Endpoint != "" && c.Bucket != "" && c.Object != ""
}

// Source loads the template once and serves the cached parse afterwards.
// Load order: object storage, then local file, then the embedded copy.
type Source struct {
	object ObjectConfig
	file   string

	mu     sync.Mutex
	cached *framework.Document
}

// NewSource creates a template source. Either config may be empty; the
// embedded template is always available as the final fallback.
func NewSource(object ObjectConfig, file string) *Source {
	return &Source{object: object, file: file}
}

// Template returns a deep copy of the baseline template. A load failure is
// fatal to the caller; there is no retry here.
func (s *Source) Template(ctx context.Context) (*framework.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		raw, err := s.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load seed template: %w", err)
		}
		doc, err := framework.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse seed template: %w", err)
		}
		s.cached = doc
	}

	return s.cached.Clone(), nil
}

func (s *Source) load(ctx context.Context) ([]byte, error) {
	if s.object.configured() {
		raw, err := s.loadObject(ctx)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		return raw, nil
	}

	if s.file != "" {
		raw, err := os.ReadFile(s.file)
		if err != nil {
			return nil, fmt.Errorf("template file: %w", err)
		}
		return raw, nil
	}

	return embeddedTemplate, nil
}

func (s *Source) loadObject(ctx context.Context) ([]byte, error) {
	client, err := minio.New(s.object.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.object.AccessKey, s.object.SecretKey, ""),
		Secure: s.object.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	obj, err := client.GetObject(ctx, s.object.Bucket, s.object.Object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return io.ReadAll(obj)
}
