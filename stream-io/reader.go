package streamio

import (
	"context"
	"io"
)

/* Reading Rules

type Reader interface {
    Read(p []byte) (n int, err error)
}

1. A Read() call will read up to len(p) into p, when possible.
2. After a Read() call, n may be less then len(p).
3. Upon error, a Read() call may still return n bytes in transfer buffer p.
4. When a Read() call exhausts available data, a reader may return a non-zero n and err=io.EOF.
   However, a reader may choose to return a non-zero n and err=nil at the end of stream.
   In that case, any subsequent read ops must return n=0, err=io.EOF.
5. A Read() call that returns n=0 and err=nil does not mean EOF as the next call to Read() may return more data.

pullReader returns at most one pulled chunk per Read() call (rule 2), and keeps
the part of the chunk that did not fit into p for the next call.

*/

type pullReader struct {
	ctx       context.Context
	r         *StreamReader
	lastChunk []byte
}

// AsReader 把StreamReader包装成io.ReadCloser, 同时实现io.WriterTo.
// Close会以ErrClosed销毁尚未读完的读取器.
func AsReader(ctx context.Context, r *StreamReader) io.ReadCloser {
	return &pullReader{
		ctx: ctx,
		r:   r,
	}
}

func (pr *pullReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(pr.lastChunk) == 0 {
		chunk, err := pr.r.Pull(pr.ctx)
		if err != nil {
			return 0, err
		}
		pr.lastChunk = chunk
	}
	n := copy(p, pr.lastChunk)
	pr.lastChunk = pr.lastChunk[n:]
	return n, nil
}

// WriteTo 将剩余数据逐块写入w. 写入失败时以该错误销毁读取器.
func (pr *pullReader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		chunk := pr.lastChunk
		pr.lastChunk = nil
		if len(chunk) == 0 {
			var err error
			chunk, err = pr.r.Pull(pr.ctx)
			if err == io.EOF {
				return total, nil
			}
			if err != nil {
				return total, err
			}
		}

		n, err := w.Write(chunk)
		total += int64(n)
		if err == nil && n < len(chunk) {
			err = io.ErrShortWrite
		}
		if err != nil {
			pr.r.Destroy(err)
			return total, err
		}
	}
}

func (pr *pullReader) Close() error {
	pr.lastChunk = nil
	pr.r.Destroy(ErrClosed)
	return nil
}
