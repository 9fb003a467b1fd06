// ABOUTME: Request parsing for the message routes
// ABOUTME: Accepts JSON bodies or multipart forms with any number of file parts

package gateway

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dingdoor/chat-gateway/internal/assistant"
	"github.com/dingdoor/chat-gateway/internal/conversation"
)

// multipartMemory is how much of a multipart body is held in memory before spilling to disk
const multipartMemory = 32 << 20

// requestError is a malformed request. It always maps to 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// form is the decoded body of a message route, whichever encoding it arrived in
type form struct {
	fields map[string]string
	raw    map[string]json.RawMessage
	files  []assistant.File
}

// value returns a text field. On the JSON path the field must be a string or null.
func (f *form) value(name string) (string, error) {
	if v, ok := f.fields[name]; ok {
		return v, nil
	}
	raw, ok := f.raw[name]
	if !ok {
		return "", nil
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", badRequest("%s must be a string", name)
	}
	return s, nil
}

// values reads several text fields, stopping at the first that is not a string
func (f *form) values(names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := f.value(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// jsonValue returns a field as JSON. Multipart fields carry JSON as text.
func (f *form) jsonValue(name string) json.RawMessage {
	if raw, ok := f.raw[name]; ok {
		return raw
	}
	if v, ok := f.fields[name]; ok && strings.TrimSpace(v) != "" {
		return json.RawMessage(v)
	}
	return nil
}

// parseForm decodes a JSON or multipart request body
func parseForm(r *http.Request) (*form, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "multipart/form-data":
		return parseMultipart(r)
	case "application/json":
		return parseJSON(r.Body)
	default:
		return nil, badRequest("Missing JSON")
	}
}

func parseJSON(body io.Reader) (*form, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, bodyError(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, badRequest("Empty JSON body")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, badRequest("Invalid JSON body")
	}
	return &form{raw: raw}, nil
}

func parseMultipart(r *http.Request) (*form, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, bodyError(err)
	}
	defer r.MultipartForm.RemoveAll()

	f := &form{fields: make(map[string]string)}
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			f.fields[name] = values[0]
		}
	}

	// Field order is not preserved by the parser; sort for a stable attachment order
	names := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		for _, fh := range r.MultipartForm.File[name] {
			file, err := readFilePart(fh)
			if err != nil {
				return nil, err
			}
			f.files = append(f.files, file)
		}
	}
	return f, nil
}

func readFilePart(fh *multipart.FileHeader) (assistant.File, error) {
	src, err := fh.Open()
	if err != nil {
		return assistant.File{}, fmt.Errorf("opening upload %q: %w", fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return assistant.File{}, fmt.Errorf("reading upload %q: %w", fh.Filename, err)
	}

	filename := filepath.Base(strings.TrimSpace(fh.Filename))
	if filename == "" || filename == "." || filename == "/" {
		filename = "upload-" + randomHex(4)
	}
	return assistant.File{
		Filename:    filename,
		Data:        data,
		ContentType: detectContentType(fh.Header.Get("Content-Type"), filename),
	}, nil
}

// detectContentType prefers the part header, then the file extension
func detectContentType(header, filename string) string {
	if header != "" {
		return header
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return badRequest("request body exceeds %d bytes", maxErr.Limit)
	}
	return badRequest("reading request body: %v", err)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// toSendRequest builds a conversation turn from a decoded form
func (f *form) toSendRequest() (*conversation.SendRequest, error) {
	v, err := f.values("id", "userId", "message")
	if err != nil {
		return nil, err
	}
	req := &conversation.SendRequest{
		ChatID:  v["id"],
		UserID:  strings.TrimSpace(v["userId"]),
		Message: v["message"],
		Files:   f.files,
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, badRequest("userId and message are required")
	}

	if raw := unquoteJSON(f.jsonValue("previousMessages")); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var history []assistant.HistoryMessage
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, badRequest("previousMessages must be JSON list")
		}
		req.PreviousMessages = history
	}
	return req, nil
}

// toInsertRequest builds a direct insert from a decoded form
func (f *form) toInsertRequest() (*conversation.InsertRequest, error) {
	v, err := f.values("conversationId", "id", "userId", "role", "message", "event")
	if err != nil {
		return nil, err
	}
	req := &conversation.InsertRequest{
		ConversationID: firstNonEmpty(v["conversationId"], v["id"]),
		UserID:         strings.TrimSpace(v["userId"]),
		Role:           v["role"],
		Message:        v["message"],
		Event:          v["event"],
		Files:          f.files,
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, badRequest("userId and message are required")
	}

	eventData, err := decodeEventData(f.jsonValue("eventData"))
	if err != nil {
		return nil, err
	}
	req.EventData = eventData
	return req, nil
}

// decodeEventData accepts a JSON object, or a string holding one
func decodeEventData(raw json.RawMessage) (map[string]any, error) {
	raw = unquoteJSON(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, badRequest("eventData must be a JSON object")
	}
	return out, nil
}

// unquoteJSON unwraps a JSON string that itself holds JSON
func unquoteJSON(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return bytes.TrimSpace([]byte(text))
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
