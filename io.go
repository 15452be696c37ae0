package gemini

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
)

// writeResponse serializes resp onto w: the status line, then the body for
// successful responses only. It returns the status that was written and
// the number of body bytes.
//
// A file-backed body is opened before anything is written so that a
// missing file can still be reported with a proper status.
func writeResponse(w io.Writer, resp *Response) (Status, int64, error) {
	status, meta := statusLine(resp)

	var body io.Reader
	if status.Class() == ClassSuccess {
		switch {
		case resp.File != nil:
			r, closer, err := openFileBody(resp.File)
			if err != nil {
				status, meta = fileErrorStatus(err)
				break
			}
			defer closer.Close()
			body = r
		case len(resp.Body) > 0:
			body = bytes.NewReader(resp.Body)
		}
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(strconv.Itoa(int(status)))
	bw.WriteByte(' ')
	bw.WriteString(meta)
	bw.Write(crlf)

	var n int64
	if body != nil {
		var err error
		n, err = bw.ReadFrom(body)
		if err != nil {
			return status, n, err
		}
	}
	return status, n, bw.Flush()
}

// openFileBody returns a reader over the requested range of the file.
func openFileBody(fb *FileBody) (io.Reader, io.Closer, error) {
	f, err := os.Open(fb.Name)
	if err != nil {
		return nil, nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, nil, ErrNotAFile
	}
	if fb.Offset < 0 || fb.Offset > stat.Size() {
		f.Close()
		return nil, nil, fmt.Errorf("gemini: offset %d outside %s", fb.Offset, fb.Name)
	}
	length := fb.Length
	if length <= 0 || fb.Offset+length > stat.Size() {
		length = stat.Size() - fb.Offset
	}
	return io.NewSectionReader(f, fb.Offset, length), f, nil
}

func fileErrorStatus(err error) (Status, string) {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNotAFile) {
		return StatusNotFound, "Not found"
	}
	return StatusTemporaryFailure, "Temporary Failure"
}
