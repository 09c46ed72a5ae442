// bench hammers the directory with lookup sessions to gauge routing
// throughput. Register some nodes first (or point -file at a missing name to
// measure the miss path).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "directory address")
	file := flag.String("file", "bench.bin", "file name to look up")
	n := flag.Int("n", 5000, "lookups")
	conc := flag.Int("c", 32, "concurrency")
	flag.Parse()

	var hits, misses, errs atomic.Int64
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func() {
			defer wg.Done()
			defer func() { <-ch }()

			conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
			if err != nil {
				errs.Add(1)
				return
			}
			defer conn.Close()
			sc := bufio.NewScanner(conn)

			fmt.Fprintf(conn, "HELLO\n")
			if !sc.Scan() { // greeting
				errs.Add(1)
				return
			}
			fmt.Fprintf(conn, "GET %s\n", *file)
			if !sc.Scan() {
				errs.Add(1)
				return
			}
			switch {
			case strings.HasPrefix(sc.Text(), "SERVER "):
				hits.Add(1)
			case sc.Text() == "ERROR FILE_NOT_FOUND":
				misses.Add(1)
			default:
				errs.Add(1)
			}
		}()
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d lookups in %s (%.2f ops/s): %d hits, %d misses, %d errors\n",
		*n, dur, float64(*n)/dur.Seconds(), hits.Load(), misses.Load(), errs.Load())
}
