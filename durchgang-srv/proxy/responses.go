package proxy

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// connectionEstablished is the exact reply promised to CONNECT clients.
const connectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// writeRawResponse writes a minimal HTTP/1.1 response directly to conn. The
// proxy speaks raw TCP, so control responses (407, 400, 502, 504) are built
// by hand rather than through an http.ResponseWriter.
func writeRawResponse(conn net.Conn, statusCode int, headers map[string]string, body string) error {
	reason := http.StatusText(statusCode)

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", statusCode, reason)

	if body != "" {
		if _, ok := headers["Content-Type"]; !ok {
			sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		}
		fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	}

	// Headers go out in sorted order so responses are byte-stable.
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\r\n", name, headers[name])
	}

	sb.WriteString("\r\n")
	sb.WriteString(body)

	_, err := conn.Write([]byte(sb.String()))
	return err
}

// writeProxyAuthRequired sends the 407 challenge expected by proxy clients.
func writeProxyAuthRequired(conn net.Conn) error {
	return writeRawResponse(conn, http.StatusProxyAuthRequired, map[string]string{
		"Proxy-Authenticate": `Basic realm="Proxy"`,
		"Connection":         "close",
	}, "Proxy Authentication Required")
}

func writeBadRequest(conn net.Conn) error {
	return writeRawResponse(conn, http.StatusBadRequest, map[string]string{
		"Connection": "close",
	}, "")
}

func writeBadGateway(conn net.Conn) error {
	return writeRawResponse(conn, http.StatusBadGateway, map[string]string{
		"Connection": "close",
	}, "")
}

func writeGatewayTimeout(conn net.Conn) error {
	return writeRawResponse(conn, http.StatusGatewayTimeout, map[string]string{
		"Connection": "close",
	}, "")
}
