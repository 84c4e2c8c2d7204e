package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	redis "github.com/example/goredis"
)

var (
	addrFlag = flag.String("addr", "localhost:6379", "Redis node `address`.")
	authFlag = flag.Bool("auth", false, "Reads a password from the standard input.")

	rawFlag       = flag.Bool("raw", false, "Output values as is, instead of quoted strings.")
	delimitFlag   = flag.String("delimit", "\n", "The output `separator` between values.")
	terminateFlag = flag.String("terminate", "\n", "The output `suffix` on the last value.")
	nullFlag      = flag.String("null", "<null>", "The output `value` for key absence.")
)

// Conn manages the connection.
var Conn *redis.Conn

func main() {
	flag.Parse()
	keys := flag.Args()
	if len(keys) == 0 {
		os.Stderr.WriteString(`NAME
	reget — resolve Redis content

SYNOPSIS
	reget [ options ] [ key ... ]

DESCRIPTION
	For each operand, reget prints the associated value according to
	the node.

	The following options are available:

`)
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx := context.Background()

	host, port := splitAddr(*addrFlag)
	opts := redis.Options{Host: host, Port: port}
	if *authFlag {
		password, _ := io.ReadAll(os.Stdin)
		opts.Auth = strings.TrimRight(string(password), "\r\n")
	}

	conn, err := redis.Dial(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reget: connect with", err)
		os.Exit(4)
	}
	Conn = conn
	defer Conn.Close()

	print(ctx, keys)
}

func splitAddr(addr string) (host string, port int) {
	host = addr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		if n, err := strconv.Atoi(addr[i+1:]); err == nil {
			return addr[:i], n
		}
	}
	return host, 6379
}

func print(ctx context.Context, keys []string) {
	w := os.Stdout
	for i, key := range keys {
		v, err := Conn.GET(ctx, key)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reget: GET with", err)
			os.Exit(255)
		}

		switch {
		case v == nil:
			w.WriteString(*nullFlag)
		case *rawFlag:
			w.Write(v)
		default:
			w.WriteString(strconv.QuoteToGraphic(string(v)))
		}

		if i < len(keys)-1 {
			w.WriteString(*delimitFlag)
		} else {
			w.WriteString(*terminateFlag)
		}
	}
}
