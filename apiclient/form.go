package apiclient

import (
	"bytes"
	"io"
	"mime/multipart"
	"strconv"
)

// form accumulates a multipart body. The first write error sticks and is
// reported by finish.
type form struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *form {
	f := &form{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *form) field(name, value string) {
	if f.err == nil {
		f.err = f.w.WriteField(name, value)
	}
}

func (f *form) int(name string, v int) { f.field(name, strconv.Itoa(v)) }

func (f *form) float(name string, v float64) {
	f.field(name, strconv.FormatFloat(v, 'f', -1, 64))
}

func (f *form) bool(name string, v bool) { f.field(name, strconv.FormatBool(v)) }

func (f *form) file(name, filename string, data []byte) {
	if f.err != nil {
		return
	}
	part, err := f.w.CreateFormFile(name, filename)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = part.Write(data)
}

func (f *form) finish() (io.Reader, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, "", err
	}
	return &f.buf, f.w.FormDataContentType(), nil
}
