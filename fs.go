package gemini

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

func init() {
	// Add Gemini mime types
	mime.AddExtensionType(".gmi", "text/gemini")
	mime.AddExtensionType(".gemini", "text/gemini")
}

// IndexFile is served for requests naming a directory.
const IndexFile = "index.gmi"

// FileServer returns a handler that serves Gemini requests with the
// contents of the file system rooted at root. The body is streamed from
// the file by the server; the handler itself only resolves the path.
//
// A request for a directory is redirected to the same path with a
// trailing slash and then answered with the directory's index.gmi.
func FileServer(root string) Handler {
	return fileServer{root: root}
}

type fileServer struct {
	root string
}

func (fsh fileServer) ServeGemini(ctx context.Context, r *Request) *Response {
	p := r.Path()
	name := filepath.Join(fsh.root, filepath.FromSlash(path.Clean("/"+p)))

	stat, err := os.Stat(name)
	if err != nil {
		return StatusResponse(StatusNotFound, "Not found")
	}
	if stat.IsDir() {
		if !strings.HasSuffix(p, "/") {
			return Redirect(StatusPermanentRedirect, r.URL.WithPath(p+"/"))
		}
		name = filepath.Join(name, IndexFile)
		stat, err = os.Stat(name)
		if err != nil || !stat.Mode().IsRegular() {
			return StatusResponse(StatusNotFound, "Not found")
		}
	} else if !stat.Mode().IsRegular() {
		return StatusResponse(StatusNotFound, "Not found")
	}
	return ServeFile(name, "")
}

// ServeFile returns a response whose body is the named file. An empty
// contentType is derived from the file extension.
func ServeFile(name, contentType string) *Response {
	return ServeFileRange(name, contentType, 0, 0)
}

// ServeFileRange returns a response whose body is length bytes of the
// named file starting at offset. A length of zero means the rest of the
// file.
func ServeFileRange(name, contentType string, offset, length int64) *Response {
	if contentType == "" {
		contentType = mimeType(name)
	}
	return &Response{
		Status:      GenericOK,
		ContentType: contentType,
		File:        &FileBody{Name: name, Offset: offset, Length: length},
	}
}

// mimeType returns the media type for the file name, defaulting to
// application/octet-stream.
func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
