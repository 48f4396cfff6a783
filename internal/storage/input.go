// Copyright 2025 Docflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docflow/ingest/internal/model"
)

// ReadInputURL fetches document bytes from an ingestion input location.
// Supported schemes are file:// for local paths and s3:// for objects read
// with the INPUT_S3 credentials.
func (f *Factory) ReadInputURL(ctx context.Context, inputURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(inputURL, "file://"):
		data, err := os.ReadFile(strings.TrimPrefix(inputURL, "file://"))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("input %s: %w", inputURL, model.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return data, nil

	case strings.HasPrefix(inputURL, "s3://"):
		bucket, key, err := splitS3URL(inputURL)
		if err != nil {
			return nil, err
		}
		client, err := newS3Client(ctx, f.cfg.InputS3)
		if err != nil {
			return nil, fmt.Errorf("failed to create input s3 client: %w", err)
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read input object: %w", err)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)

	default:
		return nil, fmt.Errorf("%w: unknown input url scheme in %q", model.ErrInvalidInput, inputURL)
	}
}

// splitS3URL breaks s3://bucket/key into its parts.
func splitS3URL(url string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(url, "s3://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: malformed s3 url %q", model.ErrInvalidInput, url)
	}
	return bucket, key, nil
}
