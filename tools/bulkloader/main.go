// Load driver for the bulk sync endpoint: floods a dev server with fake
// devices flushing fake offline queues, to size merge throughput and the
// rate limiter. Expect 429s unless RATE_LIMIT_RPS is raised on the server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dodanati/api"
)

// Reports are scattered over this box around central Algiers.
const (
	baseLat = 36.70
	baseLng = 2.98
	spanDeg = 0.10
)

func main() {
	base := flag.String("base", envOr("API_BASE_URL", "http://localhost:8080"), "dev server base URL")
	total := flag.Int("total", 5000, "number of fake reports to send")
	batchSize := flag.Int("batch", 100, "items per bulk request, one fake device each")
	flag.Parse()

	endpoint := *base + api.BulkSyncEndpoint
	batches := (*total + *batchSize - 1) / *batchSize
	client := &http.Client{Timeout: 60 * time.Second}

	var sent int64
	var created int64
	var failed int64
	start := time.Now()

	var wg sync.WaitGroup
	for b := 0; b < batches; b++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			offset := batch * (*batchSize)
			size := *batchSize
			if offset+size > *total {
				size = *total - offset
			}
			if size <= 0 {
				return
			}

			args := api.BulkArgs{
				DeviceUUID: fmt.Sprintf("loadgen-%04d", batch),
				Platform:   "loadgen",
				AppVersion: "dev",
				Locale:     "fr",
				Items:      make([]api.BulkItem, 0, size),
			}
			for i := 0; i < size; i++ {
				id := offset + i
				args.Items = append(args.Items, api.BulkItem{
					ClientRef:  fmt.Sprintf("load_%d", id),
					CategoryID: 1 + rand.Intn(5),
					Severity:   1 + rand.Intn(5),
					Lat:        baseLat + rand.Float64()*spanDeg,
					Lng:        baseLng + rand.Float64()*spanDeg,
					QueuedAt:   time.Now().Add(-time.Duration(rand.Intn(3600)) * time.Second).UnixMilli(),
				})
			}

			body, _ := json.Marshal(args)
			req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				log.Printf("batch %d: build request: %v", batch, err)
				return
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				log.Printf("batch %d: request error: %v", batch, err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				log.Printf("batch %d: status %s", batch, resp.Status)
				return
			}

			var result api.BulkResult
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				log.Printf("batch %d: decode response: %v", batch, err)
				return
			}
			atomic.AddInt64(&sent, 1)
			atomic.AddInt64(&created, int64(result.Meta.CreatedCount))
			atomic.AddInt64(&failed, int64(result.Meta.FailedCount))
		}(b)
	}

	wg.Wait()
	duration := time.Since(start).Seconds()
	if duration == 0 {
		duration = 1
	}

	fmt.Printf("Sent %d batches: %d reports accepted, %d rejected in %.2fs (%.2f req/s, %.0f reports/s)\n",
		sent, created, failed, duration, float64(sent)/duration, float64(created)/duration)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
