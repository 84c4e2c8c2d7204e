package redis

import (
	"net/url"
	"strconv"
	"strings"
)

// Options configures Dial. The zero value is valid and dials
// localhost:6379 in RESP2/3 auto-negotiated mode with no auth, a
// pipeline cap of 100 in-flight commands, and no client-side cache.
type Options struct {
	// Host and Port name the server. Host defaults to "localhost" and
	// Port to 6379 when both are zero and URI is empty.
	Host string
	Port int

	// URI, if set, is a "redis://[user:pass@]host[:port][/db]" string
	// parsed by ParseURL; it takes precedence over Host/Port/Auth/
	// Database when those are left at their zero values.
	URI string

	Auth     string
	Database int

	// ClientName is sent via HELLO's SETNAME clause (or CLIENT SETNAME
	// on RESP2 fallback).
	ClientName string

	// PipelineDepth bounds how many commands may be in flight
	// (written, awaiting reply) at once; additional Execute calls queue
	// until a slot frees up. nil selects the default of 100; a pointer
	// to 0 disables the bound (unbounded in-flight commands). Use
	// PipelineDepthOf to build one inline.
	PipelineDepth *int

	// StreamReadLen and StreamWriteLen size the buffered reader/writer
	// around the connection. Both default to 1 MiB.
	StreamReadLen  int
	StreamWriteLen int

	// ClientSideCacheSize, if positive, enables the client-side cache
	// (§4.5) with this many entries of capacity.
	ClientSideCacheSize int

	// Tracing signals whether the caller should attach a Tracer to the
	// Conn returned by Dial (Dial itself has no concrete tracer to
	// construct from a bool). DefaultOptions seeds this from the
	// USE_OPENTRACING environment variable at process start.
	Tracing bool

	// OnDisconnect, copied onto the Conn if set, is invoked once on
	// teardown.
	OnDisconnect func(error)
}

const (
	defaultHost           = "localhost"
	defaultPort           = 6379
	defaultStreamReadLen  = 1 << 20
	defaultStreamWriteLen = 1 << 20
	defaultPipelineDepth  = 100
)

// PipelineDepthOf returns a pointer to n, for setting Options.PipelineDepth
// (including to 0, to disable the bound) without an intermediate variable.
func PipelineDepthOf(n int) *int { return &n }

func (o Options) withDefaults() Options {
	if o.StreamReadLen == 0 {
		o.StreamReadLen = defaultStreamReadLen
	}
	if o.StreamWriteLen == 0 {
		o.StreamWriteLen = defaultStreamWriteLen
	}
	if o.PipelineDepth == nil {
		o.PipelineDepth = PipelineDepthOf(defaultPipelineDepth)
	}
	return o
}

// address resolves the dial target, preferring URI when Host/Port are
// both unset.
func (o Options) address() (string, error) {
	if o.URI != "" && o.Host == "" && o.Port == 0 {
		parsed, err := ParseURL(o.URI)
		if err != nil {
			return "", err
		}
		return parsed.address()
	}
	host := o.Host
	if host == "" {
		host = defaultHost
	}
	port := o.Port
	if port == 0 {
		port = defaultPort
	}
	return host + ":" + strconv.Itoa(port), nil
}

// ParseURL parses a "redis://[user:pass@]host[:port][/db]" URI into an
// Options value. The scheme must be "redis" or "rediss" ("rediss" is
// accepted but does not enable TLS); user info's password
// component becomes Auth (the username, if any, is ignored — Redis
// AUTH predates ACL usernames and this module targets the single-
// password form). A path of "/N" sets Database to N.
func ParseURL(raw string) (Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Options{}, usageError("malformed redis URL: %v", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return Options{}, usageError("unsupported URL scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		host = defaultHost
	}
	port := defaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Options{}, usageError("malformed port %q", p)
		}
		port = n
	}

	opts := Options{Host: host, Port: port}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			opts.Auth = pw
		}
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		n, err := strconv.Atoi(path)
		if err != nil {
			return Options{}, usageError("malformed database index %q", path)
		}
		opts.Database = n
	}
	return opts, nil
}
