package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/zephyrdtn/pkg/buffer"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server address")
	dst := flag.String("dst", "node2", "destination node id")
	n := flag.Int("n", 1000, "packets")
	conc := flag.Int("c", 16, "concurrency")
	size := flag.Int("size", 128, "payload size bytes")
	mix := flag.Bool("mix", true, "mix traffic classes instead of bulk only")
	flag.Parse()

	classes := []buffer.Class{buffer.ClassSpeech, buffer.ClassControl, buffer.ClassMultimedia, buffer.ClassBulk}
	client := &http.Client{Timeout: 5 * time.Second}
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)
	var accepted, rejected atomic.Int64

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			defer func() { <-ch }()
			class := buffer.ClassBulk
			if *mix {
				class = classes[i%len(classes)]
			}
			payload := bytes.Repeat([]byte{byte(rand.Intn(255))}, *size)
			url := fmt.Sprintf("%s/send/%s?class=%s", *addr, *dst, class)
			resp, err := client.Post(url, "application/octet-stream", bytes.NewReader(payload))
			if err != nil {
				rejected.Add(1)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusAccepted {
				accepted.Add(1)
			} else {
				rejected.Add(1)
			}
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Sent %d packets in %s (%.2f pkts/s), accepted %d, rejected %d\n",
		*n, dur, float64(*n)/dur.Seconds(), accepted.Load(), rejected.Load())
}
