// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig enables uploading the TSV files to a bucket when Bucket is set.
type GCSConfig struct {
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`

	// Prefix is prepended to every object name.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// CredentialsFile is a service account key. Empty uses the ambient
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`

	// Endpoint overrides the storage API endpoint and disables
	// authentication, for emulators.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Enabled reports whether the archive is configured.
func (c GCSConfig) Enabled() bool { return c.Bucket != "" }

// GCSArchive uploads result files to Google Cloud Storage.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchive creates a storage client for cfg.
func NewGCSArchive(ctx context.Context, cfg GCSConfig) (*GCSArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("gcs: service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create storage client: %w", err)
	}
	return &GCSArchive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectName is where a local file of run is stored: <prefix>/<run id>/<base>.
func (a *GCSArchive) ObjectName(run *Run, localPath string) string {
	return path.Join(a.prefix, run.ID, filepath.Base(localPath))
}

// Upload copies files into the bucket and returns their object names.
func (a *GCSArchive) Upload(ctx context.Context, run *Run, files []string) ([]string, error) {
	names := make([]string, 0, len(files))
	for _, f := range files {
		name := a.ObjectName(run, f)
		if err := a.uploadFile(ctx, f, name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (a *GCSArchive) uploadFile(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcs: open %s: %w", localPath, err)
	}
	defer f.Close()

	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/tab-separated-values"
	w.CacheControl = "no-cache"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("gcs: copy %s to gs://%s/%s: %w", localPath, a.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: finish gs://%s/%s: %w", a.bucket, name, err)
	}
	return nil
}

// Close closes the storage client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}
