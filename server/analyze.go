package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/hannes/kiji-ner/logging"
)

var errInvalidUTF8 = errors.New("document is not valid UTF-8")

// handleAnalyze accepts a multipart upload in the "file" field and returns
// both extraction lists.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		s.writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeDetail(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds the %d byte limit", s.config.MaxUploadBytes))
			return
		}
		s.writeDetail(w, http.StatusBadRequest, "Missing file upload in field 'file'")
		return
	}
	defer file.Close()

	mediaType, params, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/plain" {
		s.writeDetail(w, http.StatusBadRequest, "Only text files are allowed")
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		s.writeDetail(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	text, err := decodeText(raw, params["charset"])
	if err != nil {
		s.writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		s.logger.ErrorContext(ctx, "[Server] Analysis failed",
			"request_id", logging.RequestID(ctx), "filename", header.Filename, "error", err)
		s.writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.InfoContext(ctx, "[Server] Analyzed upload",
		"request_id", logging.RequestID(ctx),
		"filename", header.Filename,
		"bytes", len(raw),
		"generative", len(resp.GenerativeResults),
		"labeling", len(resp.LabelingResults))

	if s.config.LegacyFieldNames {
		s.writeJSON(w, http.StatusOK, resp.Legacy())
		return
	}
	s.writeJSON(w, http.StatusOK, resp.WithEmptyLists())
}

// decodeText converts raw from the declared charset to a UTF-8 string.
// An empty charset means UTF-8.
func decodeText(raw []byte, charset string) (string, error) {
	charset = strings.TrimSpace(charset)
	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "utf8") {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return "", fmt.Errorf("unsupported charset %q", charset)
		}
		raw, err = enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s document: %w", charset, err)
		}
	}
	if !utf8.Valid(raw) {
		return "", errInvalidUTF8
	}
	return string(raw), nil
}
