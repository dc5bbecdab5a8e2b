// Package httpd answers one HTTP request line per connection with a static page.
package httpd

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRequest is returned for request lines that are not
// "METHOD PATH HTTP/x".
var ErrMalformedRequest = errors.New("malformed request line")

// RequestLine is the first line of an HTTP request.
type RequestLine struct {
	Method  string
	Path    string // without query string
	Query   string
	Version string
}

func (r RequestLine) String() string {
	target := r.Path
	if r.Query != "" {
		target += "?" + r.Query
	}
	return r.Method + " " + target + " " + r.Version
}

// ParseRequestLine splits line into method, path and version. A trailing
// CRLF or LF is ignored.
func ParseRequestLine(line string) (RequestLine, error) {
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Split(line, " ")
	if len(fields) != 3 {
		return RequestLine{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}
	method, target, version := fields[0], fields[1], fields[2]

	if method == "" || !isToken(method) {
		return RequestLine{}, fmt.Errorf("%w: bad method %q", ErrMalformedRequest, method)
	}
	if !strings.HasPrefix(target, "/") {
		return RequestLine{}, fmt.Errorf("%w: bad target %q", ErrMalformedRequest, target)
	}
	if !strings.HasPrefix(version, "HTTP/") || len(version) == len("HTTP/") {
		return RequestLine{}, fmt.Errorf("%w: bad version %q", ErrMalformedRequest, version)
	}

	req := RequestLine{Method: method, Path: target, Version: version}
	if i := strings.IndexByte(target, '?'); i >= 0 {
		req.Path, req.Query = target[:i], target[i+1:]
	}
	return req, nil
}

// isToken reports whether s is made of upper-case letters, as every
// registered method is.
func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
