// Package redis implements a client for Redis servers: it opens a byte
// stream, serializes commands into the Redis serialization protocol
// (RESP2 or RESP3), decodes replies, and pairs each reply back to the
// caller that issued it — including pipelined, transactional (MULTI),
// and publish/subscribe traffic over a single connection.
//
// The package has no third-party dependencies. It does not implement a
// Redis server, cluster routing, Sentinel failover, or TLS (Dial opens a
// plain TCP connection), and it does not reconnect automatically
// beyond clearing state on disconnect.
package redis
