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

// Package parse holds the clients for the external document-parsing and
// embedding services.
package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client calls the document parsing service. The service accepts a file
// upload and converts it to markdown and a structured JSON document.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a parser client for the service at baseURL with the
// given request timeout in seconds.
func NewClient(baseURL string, timeoutSecs int) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second},
	}
}

// Result is the parsed output of one document.
type Result struct {
	Markdown []byte
	JSON     []byte
}

type convertResponse struct {
	Status   string `json:"status"`
	Document struct {
		MDContent   string          `json:"md_content"`
		JSONContent json.RawMessage `json:"json_content"`
	} `json:"document"`
	Errors []string `json:"errors,omitempty"`
}

// Convert uploads file bytes to the parsing service and returns its
// markdown and JSON renditions. Options from the step config are passed
// through as form fields.
func (c *Client) Convert(ctx context.Context, fileName, mimeType string, data []byte, options map[string]any) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("files", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	if err := mw.WriteField("to_formats", "md"); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.WriteField("to_formats", "json"); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	for key, val := range options {
		if err := mw.WriteField(key, fmt.Sprint(val)); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert/file", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build parse request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call parser: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read parser response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parser returned %d: %s", resp.StatusCode, truncate(respBody))
	}

	var cr convertResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("failed to decode parser response: %w", err)
	}
	if cr.Status != "success" {
		return nil, fmt.Errorf("parse failed: %s", strings.Join(cr.Errors, "; "))
	}

	return &Result{
		Markdown: []byte(cr.Document.MDContent),
		JSON:     []byte(cr.Document.JSONContent),
	}, nil
}

// ParseFileName returns the upload name for a source URI, appending ".md"
// for markdown content whose URI lacks the extension so the parser picks
// the right input format.
func ParseFileName(sourceURI, mimeType string) string {
	name := sourceURI
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "document"
	}
	if strings.Contains(mimeType, "markdown") && !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return name
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
