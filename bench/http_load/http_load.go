package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LoginResp is the body returned by /auth/login.
type LoginResp struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// smallest valid PNG, enough for the upload path
var pixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func main() {
	// --- Command-line flags ---
	var server string
	var duration int
	var concurrency int
	var csvFile string
	var trimPercent float64
	var insecure bool
	var readRatio float64

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 20, "number of concurrent goroutines / users")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.Float64Var(&readRatio, "reads", 0.8, "fraction of requests that list the feed instead of posting")
	flag.Parse()

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
		Timeout: 10 * time.Second,
	}

	// --- Create and log in one user per goroutine ---
	fmt.Printf("Creating %d users...\n", concurrency)
	users := make([]LoginResp, concurrency)
	for i := 0; i < concurrency; i++ {
		email := fmt.Sprintf("load-%d-%d@bench.local", i, time.Now().UnixNano())
		creds := map[string]string{"email": email, "name": fmt.Sprintf("Load %d", i), "password": "bench-pass"}

		if err := postJSON(client, server+"/auth/signup", creds, http.StatusCreated, nil); err != nil {
			panic(fmt.Sprintf("failed to sign up: %v", err))
		}
		if err := postJSON(client, server+"/auth/login", creds, http.StatusOK, &users[i]); err != nil {
			panic(fmt.Sprintf("failed to log in: %v", err))
		}
	}
	fmt.Println("Users created.")

	// --- Prepare concurrency test ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	// Atomic counters for thread-safe tracking
	var requests int64
	var successes int64
	var errors4xx int64
	var errors5xx int64

	latencySlices := make([][]float64, concurrency) // each goroutine records latencies

	// --- Start concurrent goroutines for load test ---
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			user := users[idx]
			var localLatencies []float64
			n := 0

			for time.Now().Before(stopTime) {
				n++
				var req *http.Request
				if float64(n%10) < readRatio*10 {
					req, _ = http.NewRequestWithContext(context.Background(), http.MethodGet, server+"/feed/posts?page=1", nil)
				} else {
					body, ctype := postForm(fmt.Sprintf("Load post %d", time.Now().UnixNano()))
					req, _ = http.NewRequestWithContext(context.Background(), http.MethodPost, server+"/feed/post", body)
					req.Header.Set("Content-Type", ctype)
				}
				req.Header.Set("Authorization", "Bearer "+user.Token)

				start := time.Now()
				resp, err := client.Do(req)
				lat := time.Since(start).Seconds() * 1000 // latency in ms
				localLatencies = append(localLatencies, lat)
				atomic.AddInt64(&requests, 1)

				if err != nil {
					fmt.Printf("Request error: %v\n", err)
					continue
				}

				// Count success/failure by status code
				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					atomic.AddInt64(&successes, 1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					atomic.AddInt64(&errors4xx, 1)
				case resp.StatusCode >= 500:
					atomic.AddInt64(&errors5xx, 1)
				}
				if resp.StatusCode >= 400 {
					bodyBytes, _ := io.ReadAll(resp.Body)
					fmt.Printf("Status %d: %s\n", resp.StatusCode, string(bodyBytes))
				} else {
					_, _ = io.Copy(io.Discard, resp.Body)
				}
				resp.Body.Close()
			}

			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	// --- Merge all latencies ---
	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}
	sort.Float64s(allLatencies)

	// --- Compute statistics ---
	trimmedMeanVal := trimmedMean(allLatencies, trimPercent)
	p50 := percentile(allLatencies, 50)
	p90 := percentile(allLatencies, 90)
	p99 := percentile(allLatencies, 99)

	fmt.Printf("Requests: %d  Successes: %d  4xx: %d  5xx: %d\n", requests, successes, errors4xx, errors5xx)
	fmt.Printf("Latency (ms): trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n", trimmedMeanVal, p50, p90, p99)

	// --- Save latencies to CSV ---
	f, err := os.Create(csvFile)
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"latency_ms"})
	for _, d := range allLatencies {
		w.Write([]string{fmt.Sprintf("%.3f", d)})
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}

func postJSON(client *http.Client, url string, body any, want int, out any) error {
	b, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// postForm builds a multipart create-post body with a tiny PNG attached.
func postForm(title string) (io.Reader, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", title)
	_ = mw.WriteField("content", "Generated by the load test.")
	fw, _ := mw.CreateFormFile("image", "pixel.png")
	_, _ = fw.Write(pixelPNG)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

// trimmedMean calculates mean latency after trimming top/bottom trimPercent values
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	trimmed := data[trim : len(data)-trim]
	if len(trimmed) == 0 {
		return 0
	}
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed))
}

// percentile calculates the p-th percentile from sorted data
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}
