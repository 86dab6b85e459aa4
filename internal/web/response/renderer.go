// Package response renders handler results with content negotiation.
package response

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// Renderer handles rendering of HTTP responses
type Renderer struct {
	prettyPrint    bool
	defaultHeaders map[string]string
}

// NewRenderer creates a new response renderer
func NewRenderer() *Renderer {
	return &Renderer{defaultHeaders: make(map[string]string)}
}

// NewRendererWithPrettyPrint creates a renderer with indented JSON
func NewRendererWithPrettyPrint() *Renderer {
	r := NewRenderer()
	r.prettyPrint = true
	return r
}

// SetDefaultHeader sets a header written on every response
func (r *Renderer) SetDefaultHeader(key, value string) {
	r.defaultHeaders[key] = value
}

func (r *Renderer) writeHeader(w http.ResponseWriter, statusCode int, contentType string) {
	for key, value := range r.defaultHeaders {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
}

// JSON renders a JSON response
func (r *Renderer) JSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	// Encode first so a failure can still become a clean 500
	var (
		body []byte
		err  error
	)
	if r.prettyPrint {
		body, err = json.MarshalIndent(data, "", "  ")
	} else {
		body, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	r.writeHeader(w, statusCode, "application/json; charset=utf-8")
	_, err = w.Write(append(body, '\n'))
	return err
}

// Text renders a plain text response
func (r *Renderer) Text(w http.ResponseWriter, statusCode int, text string) error {
	r.writeHeader(w, statusCode, "text/plain; charset=utf-8")
	_, err := w.Write([]byte(text))
	return err
}

// NoContent sends a 204 No Content response
func (r *Renderer) NoContent(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Negotiate picks JSON or plain text from the Accept header. JSON wins
// whenever it is acceptable, including for an empty or wildcard Accept.
// Plain text is rendered through fmt.Stringer when data implements it and
// as indented JSON otherwise.
func (r *Renderer) Negotiate(w http.ResponseWriter, req *http.Request, statusCode int, data interface{}) error {
	if !prefersText(req.Header.Get("Accept")) {
		return r.JSON(w, statusCode, data)
	}

	if s, ok := data.(fmt.Stringer); ok {
		return r.Text(w, statusCode, s.String())
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode text: %w", err)
	}
	return r.Text(w, statusCode, string(body)+"\n")
}

func prefersText(accept string) bool {
	if accept == "" {
		return false
	}
	text := false
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/json", "*/*", "application/*":
			return false
		case "text/plain":
			text = true
		}
	}
	return text
}
