// Command blinkdb-bench runs a parallel SET/GET throughput benchmark
// against a running BLINK DB server, grounded on
// original_source/part-b/benchmark.cpp's run_parallel_benchmark: spawn
// num_connections workers, split num_operations across them, time a SET
// pass then a GET pass per worker, and sum each worker's ops/sec.
package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rpmoore/blinkdb/internal/client"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <num_operations> <num_connections>\n", os.Args[0])
		os.Exit(1)
	}

	numOperations, err := strconv.Atoi(os.Args[1])
	if err != nil || numOperations <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid num_operations %q\n", os.Args[1])
		os.Exit(1)
	}
	numConnections, err := strconv.Atoi(os.Args[2])
	if err != nil || numConnections <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid num_connections %q\n", os.Args[2])
		os.Exit(1)
	}

	opsPerConn := numOperations / numConnections

	var (
		mu          sync.Mutex
		totalSetOps float64
		totalGetOps float64
		wg          sync.WaitGroup
	)

	for i := 0; i < numConnections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			setOps, getOps, err := runWorker(opsPerConn)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Benchmark error: %v\n", err)
				return
			}
			mu.Lock()
			totalSetOps += setOps
			totalGetOps += getOps
			mu.Unlock()
		}()
	}
	wg.Wait()

	fmt.Println("====== BENCHMARK RESULTS ======")
	fmt.Printf("Number of operations: %d\n", numOperations)
	fmt.Printf("Number of parallel connections: %d\n", numConnections)
	fmt.Printf("Total SET operations per second: %.2f\n", totalSetOps)
	fmt.Printf("Total GET operations per second: %.2f\n", totalGetOps)
}

func runWorker(numOperations int) (setOpsPerSec, getOpsPerSec float64, err error) {
	c, err := client.Dial("127.0.0.1:9001", 5*time.Second)
	if err != nil {
		return 0, 0, err
	}
	defer c.Close()

	if reply, err := c.Command("PING"); err != nil || reply.Str != "PONG" {
		return 0, 0, fmt.Errorf("PING test failed")
	}

	start := time.Now()
	for i := 0; i < numOperations; i++ {
		key := fmt.Sprintf("key%d", i)
		value := fmt.Sprintf("value%d", i)
		reply, err := c.Command("SET", key, value)
		if err != nil || reply.Str != "OK" {
			return 0, 0, fmt.Errorf("SET operation failed")
		}
	}
	setElapsed := time.Since(start)
	setOpsPerSec = float64(numOperations) / setElapsed.Seconds()

	start = time.Now()
	for i := 0; i < numOperations; i++ {
		key := fmt.Sprintf("key%d", i)
		expected := fmt.Sprintf("value%d", i)
		reply, err := c.Command("GET", key)
		if err != nil || string(reply.Bulk) != expected {
			return 0, 0, fmt.Errorf("GET operation failed")
		}
	}
	getElapsed := time.Since(start)
	getOpsPerSec = float64(numOperations) / getElapsed.Seconds()

	return setOpsPerSec, getOpsPerSec, nil
}
