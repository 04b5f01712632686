// Command httpcdemo issues a GET request against a target host and prints
// the status code, the body length, the exchange timing and the
// Content-Type header — a
// small end-to-end exercise of the sync request path and persistent
// connection reuse.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/embedhttp/httpc"
)

func main() {
	scheme := flag.String("scheme", "https", "http or https")
	host := flag.String("host", "example.com", "target host")
	port := flag.Int("port", 443, "target port")
	path := flag.String("path", "/", "request path")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	flag.Parse()

	conn := httpc.NewConnection(httpc.Options{
		Scheme: *scheme,
		Host:   *host,
		Port:   *port,
		ConnInfo: httpc.ConnInfo{
			InsecureTLS: *insecure,
			ConnTimeout: 10 * time.Second,
		},
	})
	defer conn.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reqBuf := make([]byte, 4096)
	hdrBuf := make([]byte, 16384)
	bodyBuf := make([]byte, 1<<20)

	req, err := httpc.NewRequest(reqBuf, "GET", *path, *host, *port, hdrBuf, bodyBuf)
	if err != nil {
		log.Fatalf("NewRequest failed: %v", err)
	}
	if err := req.AddHeader("User-Agent", "httpcdemo/"+httpc.Version); err != nil {
		log.Fatalf("AddHeader failed: %v", err)
	}

	if err := conn.Do(ctx, req); err != nil {
		log.Fatalf("request failed: %v", err)
	}

	resp := req.Response
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Body: %d bytes\n", resp.Body.Len())
	fmt.Printf("Timing: %s\n", resp.Timing.String())
	if ct, ok := httpc.ReadHeader(resp, "Content-Type"); ok {
		fmt.Printf("Content-Type: %s\n", ct)
	}

	// Issue a second request on the same connection to demonstrate reuse.
	req2, err := httpc.NewRequest(reqBuf, "GET", *path, *host, *port, hdrBuf, bodyBuf)
	if err != nil {
		log.Fatalf("NewRequest failed: %v", err)
	}
	if err := conn.Do(ctx, req2); err != nil {
		log.Fatalf("second request failed: %v", err)
	}
	fmt.Printf("Second request status: %d (connection reused)\n", req2.Response.StatusCode)
}
