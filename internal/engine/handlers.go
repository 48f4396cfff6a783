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

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/rag"
)

// handleValidate checks the raw document against the step's limits. PDFs
// additionally get their header sniffed and page count recorded.
func (e *Engine) handleValidate(ctx context.Context, sc *StepContext) error {
	op, err := sc.Operator(ctx, model.ArtifactDoc)
	if err != nil {
		return err
	}
	data, err := op.Read(ctx, sc.DocHash)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	if maxMB := paramInt(sc.Params, "max_file_size_mb", 0); maxMB > 0 {
		if int64(len(data)) > int64(maxMB)*1024*1024 {
			return fmt.Errorf("%w: file size %d exceeds %d MB", model.ErrDocumentInvalid, len(data), maxMB)
		}
	}

	doc, err := e.store.GetDocument(ctx, sc.DocHash)
	if err != nil {
		return err
	}
	meta := doc.DocMeta
	if meta == nil {
		meta = map[string]any{}
	}

	if doc.MimeType == "application/pdf" {
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return fmt.Errorf("%w: missing pdf header", model.ErrDocumentInvalid)
		}
		if version := pdfVersion(data); version != "" {
			meta["pdf_version"] = version
		}
		// "/Type /Pages" nodes also match the page prefix, subtract them.
		pages := bytes.Count(data, []byte("/Type /Page")) - bytes.Count(data, []byte("/Type /Pages"))
		if pages > 0 {
			meta["page_count"] = pages
		}
	}
	meta["validated"] = true

	return e.store.UpdateDocumentMeta(ctx, sc.DocHash, meta)
}

// pdfVersion extracts the version from a "%PDF-1.7" style header line.
func pdfVersion(data []byte) string {
	rest := data[len("%PDF-"):]
	end := bytes.IndexAny(rest, "\r\n \t")
	if end < 0 {
		end = len(rest)
	}
	if end > 8 {
		end = 8
	}
	return string(rest[:end])
}

// handleParse converts the raw document to markdown and JSON through the
// external parser, extracts a title, and records the milestone. Existing
// outputs short-circuit the call unless force is set.
func (e *Engine) handleParse(ctx context.Context, sc *StepContext) error {
	mdOp, err := sc.Operator(ctx, model.ArtifactParsedMD)
	if err != nil {
		return err
	}
	jsonOp, err := sc.Operator(ctx, model.ArtifactParsedJSON)
	if err != nil {
		return err
	}

	if !paramBool(sc.Params, "force", false) {
		mdExists, err := mdOp.Exists(ctx, sc.DocHash)
		if err != nil {
			return err
		}
		jsonExists, err := jsonOp.Exists(ctx, sc.DocHash)
		if err != nil {
			return err
		}
		if mdExists && jsonExists {
			e.logger.Debug("parse outputs already present, skipping",
				log.String(log.DocHashKey, sc.DocHash))
			return nil
		}
	}

	docOp, err := sc.Operator(ctx, model.ArtifactDoc)
	if err != nil {
		return err
	}
	data, err := docOp.Read(ctx, sc.DocHash)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := e.store.GetDocument(ctx, sc.DocHash)
	if err != nil {
		return err
	}

	fileName := "document"
	if uris, err := e.store.ListDocumentURIsByHash(ctx, sc.DocHash); err == nil && len(uris) > 0 {
		fileName = uris[0].URI
	}

	options := map[string]any{
		"do_ocr": paramBool(sc.Params, "ocr", false),
	}
	res, err := e.parser.Convert(ctx, fileName, doc.MimeType, data, options)
	if err != nil {
		return err
	}

	if err := mdOp.Write(ctx, sc.DocHash, res.Markdown); err != nil {
		return err
	}
	if err := jsonOp.Write(ctx, sc.DocHash, res.JSON); err != nil {
		return err
	}

	meta := doc.DocMeta
	if meta == nil {
		meta = map[string]any{}
	}
	findTitle(meta, string(res.Markdown), paramStrings(sc.Params, "stop_phrases"))
	if err := e.store.UpdateDocumentMeta(ctx, sc.DocHash, meta); err != nil {
		return err
	}

	return e.RecordDocAction(ctx, sc.DocHash, model.ActionParsed, batchRef(sc), nil)
}

var (
	mdH1Re = regexp.MustCompile(`(?m)^# (.+)$`)
	mdH2Re = regexp.MustCompile(`(?m)^## (.+)$`)
)

// findHeading returns the first heading match not on the ignore list.
func findHeading(md string, re *regexp.Regexp, ignores []string) string {
	for _, m := range re.FindAllStringSubmatch(md, -1) {
		heading := strings.TrimSpace(m[1])
		ignored := false
		for _, phrase := range ignores {
			if heading == phrase {
				ignored = true
				break
			}
		}
		if !ignored {
			return heading
		}
	}
	return ""
}

// findTitle picks a document title: explicit metadata wins, then the pdf
// title, then the first H1, then the first H2. The markdown headings and
// the selection are written back into meta.
func findTitle(meta map[string]any, markdown string, ignores []string) string {
	h1 := findHeading(markdown, mdH1Re, ignores)
	h2 := findHeading(markdown, mdH2Re, ignores)
	meta["md_h1_title"] = h1
	meta["md_h2_title"] = h2

	title := metaString(meta, "title")
	if title == "" {
		title = metaString(meta, "pdf_title")
	}
	if title == "" {
		title = h1
	}
	if title == "" {
		title = h2
	}
	meta["title"] = title
	return title
}

// handleChunk splits the parsed markdown into overlapping word windows and
// stores them as the chunks artifact.
func (e *Engine) handleChunk(ctx context.Context, sc *StepContext) error {
	mdOp, err := sc.Operator(ctx, model.ArtifactParsedMD)
	if err != nil {
		return err
	}
	md, err := mdOp.Read(ctx, sc.DocHash)
	if err != nil {
		return fmt.Errorf("failed to read parsed markdown: %w", err)
	}

	chunks := chunkText(string(md),
		paramInt(sc.Params, "max_tokens", 512),
		paramInt(sc.Params, "overlap_tokens", 64))

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}
	chunkOp, err := sc.Operator(ctx, model.ArtifactChunks)
	if err != nil {
		return err
	}
	if err := chunkOp.Write(ctx, sc.DocHash, data); err != nil {
		return err
	}

	if doc, err := e.store.GetDocument(ctx, sc.DocHash); err == nil {
		meta := doc.DocMeta
		if meta == nil {
			meta = map[string]any{}
		}
		meta["chunk_count"] = len(chunks)
		if err := e.store.UpdateDocumentMeta(ctx, sc.DocHash, meta); err != nil {
			return err
		}
	}

	return e.RecordDocAction(ctx, sc.DocHash, model.ActionChunked, batchRef(sc),
		map[string]any{"chunk_count": len(chunks)})
}

// chunkText splits text into word windows of maxTokens with overlapTokens
// carried between neighbours.
func chunkText(text string, maxTokens, overlapTokens int) []rag.Chunk {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = 0
	}

	words := strings.Fields(text)
	chunks := []rag.Chunk{}
	for start := 0; start < len(words); start += maxTokens - overlapTokens {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, rag.Chunk{
			Index: len(chunks),
			Text:  strings.Join(words[start:end], " "),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// handleEmbed runs the chunks through the embedding service in batches and
// stores the vectors alongside the text as the embeddings artifact.
func (e *Engine) handleEmbed(ctx context.Context, sc *StepContext) error {
	chunkOp, err := sc.Operator(ctx, model.ArtifactChunks)
	if err != nil {
		return err
	}
	data, err := chunkOp.Read(ctx, sc.DocHash)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}
	var chunks []rag.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("failed to decode chunks: %w", err)
	}

	embedModel := paramString(sc.Params, "model", "nomic-embed-text")
	batchSize := e.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := e.embedder.Embed(ctx, embedModel, texts)
		if err != nil {
			return err
		}
		for i := range vectors {
			chunks[start+i].Vector = vectors[i]
		}
	}

	out, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}
	embedOp, err := sc.Operator(ctx, model.ArtifactEmbeddings)
	if err != nil {
		return err
	}
	if err := embedOp.Write(ctx, sc.DocHash, out); err != nil {
		return err
	}

	return e.RecordDocAction(ctx, sc.DocHash, model.ActionEmbedded, batchRef(sc),
		map[string]any{"model": embedModel, "chunk_count": len(chunks)})
}

// handleStore imports the embedded document into the vector store and
// records the ingested milestone.
func (e *Engine) handleStore(ctx context.Context, sc *StepContext) error {
	embedOp, err := sc.Operator(ctx, model.ArtifactEmbeddings)
	if err != nil {
		return err
	}
	data, err := embedOp.Read(ctx, sc.DocHash)
	if err != nil {
		return fmt.Errorf("failed to read embeddings: %w", err)
	}
	var chunks []rag.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("failed to decode embeddings: %w", err)
	}

	doc, err := e.store.GetDocument(ctx, sc.DocHash)
	if err != nil {
		return err
	}

	uriStr := ""
	if uris, err := e.store.ListDocumentURIsByHash(ctx, sc.DocHash); err == nil && len(uris) > 0 {
		uriStr = uris[0].URI
	}

	dbName := paramString(sc.Params, "db_name", "")
	if dbName == "" {
		dbName = paramString(sc.Params, "data_dir", "documents")
	}

	rec, err := e.rag.ImportDocument(ctx, &rag.ImportRequest{
		Database: rag.DatabaseRef{LanceDBDir: e.cfg.LanceDBDir, DBName: dbName},
		DocHash:  sc.DocHash,
		URI:      uriStr,
		Source:   sc.Source,
		Title:    metaString(doc.DocMeta, "title"),
		Meta:     doc.DocMeta,
		Chunks:   chunks,
	})
	if err != nil {
		return err
	}

	histMeta := map[string]any{"db_name": dbName}
	if rec != nil {
		histMeta["rag_id"] = rec.RagID
	}
	return e.RecordDocAction(ctx, sc.DocHash, model.ActionIngested, batchRef(sc), histMeta)
}

// handleLogEvent is the built-in lifecycle handler: it writes one log line
// for the event.
func (e *Engine) handleLogEvent(ctx context.Context, lc *LifecycleContext) error {
	message := "lifecycle event"
	if m, ok := lc.Params["message"].(string); ok && m != "" {
		message = m
	}
	attrs := []any{
		log.String(log.EventKey, string(lc.Event)),
		log.Int64("run_group_id", lc.Group.ID),
		log.Int64(log.RunIDKey, lc.Run.ID),
	}
	if lc.Step != nil {
		attrs = append(attrs, log.Int("step_number", lc.Step.WorkflowStepNumber))
	}
	e.logger.Info(message, attrs...)
	return nil
}

// batchRef returns the step's batch id as a nullable reference.
func batchRef(sc *StepContext) *int64 {
	if sc.BatchID == 0 {
		return nil
	}
	id := sc.BatchID
	return &id
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func paramString(params map[string]any, key, fallback string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func paramBool(params map[string]any, key string, fallback bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return fallback
}

// paramInt tolerates the numeric types YAML and JSON decoding produce.
func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func paramStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
