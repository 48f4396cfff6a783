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

// Package httputil holds the JSON response, error mapping and pagination
// helpers shared by the API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/docflow/ingest/internal/model"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrBatchCompleted),
		errors.Is(err, model.ErrDocumentInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError maps a domain error to its status and writes it.
func WriteDomainError(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}

// Page is the standard paginated response envelope.
type Page struct {
	Items       any   `json:"items"`
	Total       int64 `json:"total"`
	PageNum     int   `json:"page"`
	RowsPerPage int   `json:"rows_per_page"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPage assembles the pagination envelope. total_pages rounds up.
func NewPage(items any, total int64, page, rowsPerPage int) *Page {
	totalPages := total / int64(rowsPerPage)
	if total%int64(rowsPerPage) != 0 {
		totalPages++
	}
	return &Page{
		Items:       items,
		Total:       total,
		PageNum:     page,
		RowsPerPage: rowsPerPage,
		TotalPages:  totalPages,
	}
}

// PageParams reads the page and rows_per_page query parameters. paged is
// false when neither is present, meaning the caller returns the raw list.
func PageParams(r *http.Request) (page, rowsPerPage int, paged bool, err error) {
	q := r.URL.Query()
	pageStr, rowsStr := q.Get("page"), q.Get("rows_per_page")
	if pageStr == "" && rowsStr == "" {
		return 0, 0, false, nil
	}

	page = 1
	rowsPerPage = 50
	if pageStr != "" {
		page, err = strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return 0, 0, false, fmt.Errorf("%w: page must be a positive integer", model.ErrInvalidInput)
		}
	}
	if rowsStr != "" {
		rowsPerPage, err = strconv.Atoi(rowsStr)
		if err != nil || rowsPerPage < 1 {
			return 0, 0, false, fmt.Errorf("%w: rows_per_page must be a positive integer", model.ErrInvalidInput)
		}
	}
	return page, rowsPerPage, true, nil
}

// QueryInt64 reads an optional int64 query parameter, nil when absent.
func QueryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidInput, name)
	}
	return &v, nil
}

// PathInt64 reads an int64 path value.
func PathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", model.ErrInvalidInput, name)
	}
	return v, nil
}
