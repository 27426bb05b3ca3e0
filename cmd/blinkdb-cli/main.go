// Command blinkdb-cli is an interactive line client for BLINK DB, grounded
// on original_source/part-b/src/network_client.cpp's NetworkClient REPL
// loop (prompt, read a line, send it, print the decoded reply, EXIT to
// quit).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rpmoore/blinkdb/internal/client"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 9001, "server port")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)

	c, err := client.Dial(addr, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Println("Connected to BLINK DB server. Enter commands (EXIT to quit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("User> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		args := strings.Fields(line)
		reply, err := c.Command(args...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		fmt.Println(reply.String())

		if strings.EqualFold(args[0], "EXIT") {
			break
		}
	}
}
