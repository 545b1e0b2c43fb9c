package proxy

import (
	"io"
	"net"
	"sync"
	"time"
)

// relayBufferSize is the chunk size used when shuttling tunnel bytes.
// It matches the internal buffer size of io.Copy.
const relayBufferSize = 32 * 1024

// bufferPool recycles relay buffers across tunnels to keep GC pressure low
// under many concurrent connections.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, relayBufferSize)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(buf *[]byte) {
	if buf != nil {
		bufferPool.Put(buf)
	}
}

// idleDeadlineReader refreshes the read deadline on conn before every Read,
// so a peer that stops sending mid-stream times out instead of blocking the
// reader forever.
type idleDeadlineReader struct {
	r    io.Reader
	conn net.Conn
	idle time.Duration
}

func (d *idleDeadlineReader) Read(p []byte) (int, error) {
	if d.idle > 0 {
		if err := d.conn.SetReadDeadline(time.Now().Add(d.idle)); err != nil {
			return 0, err
		}
	}
	return d.r.Read(p)
}

// copyWithIdleTimeout copies src to dst through a pooled buffer, pushing the
// read deadline on deadlineConn forward after every chunk. A stalled peer
// therefore times out while an active transfer of any length does not.
func copyWithIdleTimeout(dst io.Writer, src io.Reader, deadlineConn net.Conn, idle time.Duration) (int64, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	var written int64
	for {
		if idle > 0 {
			if err := deadlineConn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return written, err
			}
		}
		n, readErr := src.Read(*buf)
		if n > 0 {
			w, writeErr := dst.Write((*buf)[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
			if w < n {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
