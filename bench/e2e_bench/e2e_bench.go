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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// LoginResp is the body returned by /auth/login.
type LoginResp struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// CreateResp is the body returned when a post is created.
type CreateResp struct {
	Post struct {
		ID string `json:"id"`
	} `json:"post"`
}

// Pushed is a frame received on the socket.
type Pushed struct {
	Event string `json:"event"`
	Data  struct {
		Action string `json:"action"`
		Post   *struct {
			ID string `json:"id"`
		} `json:"post"`
	} `json:"data"`
}

func main() {
	// CLI flags
	var serverAddr string
	var L, P, concurrency int
	var pollTimeout int
	var insecure bool

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&L, "listeners", 20, "number of WebSocket listeners")
	flag.IntVar(&P, "posts", 100, "number of posts to publish")
	flag.IntVar(&concurrency, "c", 10, "concurrency for posting")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for event delivery")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.Parse()

	ctx := context.Background()
	tlsCfg := &tls.Config{InsecureSkipVerify: insecure}
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		Timeout:   10 * time.Second,
	}

	// --- 1) Create the posting user ---
	email := fmt.Sprintf("e2e-%d@bench.local", time.Now().UnixNano())
	creds := map[string]string{"email": email, "name": "E2E", "password": "bench-pass"}
	if err := postJSON(client, serverAddr+"/auth/signup", creds, http.StatusCreated, nil); err != nil {
		fmt.Printf("signup error: %v\n", err)
		os.Exit(1)
	}
	var user LoginResp
	if err := postJSON(client, serverAddr+"/auth/login", creds, http.StatusOK, &user); err != nil {
		fmt.Printf("login error: %v\n", err)
		os.Exit(1)
	}

	// --- 2) Connect listeners ---
	fmt.Printf("Connecting %d listeners...\n", L)
	wsURL := "ws" + strings.TrimPrefix(serverAddr, "http") + "/socket"
	dialer := websocket.Dialer{TLSClientConfig: tlsCfg, HandshakeTimeout: 5 * time.Second}

	var sentMu sync.Mutex
	sent := make(map[string]time.Time, P) // post id -> request start

	var latMu sync.Mutex
	var latencies []float64
	var delivered int64
	var listenWg sync.WaitGroup
	conns := make([]*websocket.Conn, 0, L)

	for i := 0; i < L; i++ {
		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			fmt.Printf("websocket dial error: %v\n", err)
			os.Exit(1)
		}
		conns = append(conns, conn)

		listenWg.Add(1)
		go func(conn *websocket.Conn) {
			defer listenWg.Done()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				now := time.Now()
				var msg Pushed
				if err := json.Unmarshal(data, &msg); err != nil || msg.Data.Action != "create" || msg.Data.Post == nil {
					continue
				}

				// the event may arrive before the create response is read
				var start time.Time
				for deadline := now.Add(time.Second); time.Now().Before(deadline); time.Sleep(time.Millisecond) {
					sentMu.Lock()
					start = sent[msg.Data.Post.ID]
					sentMu.Unlock()
					if !start.IsZero() {
						break
					}
				}
				if start.IsZero() {
					continue
				}
				latMu.Lock()
				latencies = append(latencies, now.Sub(start).Seconds()*1000)
				latMu.Unlock()
				atomic.AddInt64(&delivered, 1)
			}
		}(conn)
	}
	fmt.Println("Listeners connected.")

	// --- 3) Publish posts concurrently ---
	fmt.Printf("Publishing %d posts with concurrency %d...\n", P, concurrency)
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // concurrency limiter
	var created int64

	for i := 0; i < P; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body, ctype := postForm(fmt.Sprintf("E2E post %d", i))
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+"/feed/post", body)
			req.Header.Set("Content-Type", ctype)
			req.Header.Set("Authorization", "Bearer "+user.Token)

			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				fmt.Printf("post error: %v\n", err)
				return
			}
			defer resp.Body.Close()

			var cr CreateResp
			if resp.StatusCode != http.StatusCreated || json.NewDecoder(resp.Body).Decode(&cr) != nil {
				fmt.Printf("post failed with status %d\n", resp.StatusCode)
				return
			}
			sentMu.Lock()
			sent[cr.Post.ID] = start
			sentMu.Unlock()
			atomic.AddInt64(&created, 1)
		}(i)
	}
	wg.Wait()

	// --- 4) Wait for deliveries ---
	fmt.Println("Waiting for event delivery...")
	expected := created * int64(L)
	deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)
	for atomic.LoadInt64(&delivered) < expected && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	for _, c := range conns {
		_ = c.Close()
	}
	listenWg.Wait()

	// --- 5) Compute latency statistics and export to CSV ---
	fails := expected - atomic.LoadInt64(&delivered)
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	trimPercent := 1.0
	meanVal := trimmedMean(latencies, trimPercent)
	p50 := trimmedPercentile(latencies, 50, trimPercent)
	p90 := trimmedPercentile(latencies, 90, trimPercent)
	p99 := trimmedPercentile(latencies, 99, trimPercent)
	fmt.Printf("Delivery stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f missing=%d\n",
		len(latencies), meanVal, p50, p90, p99, fails)

	// Export latencies to CSV
	f, err := os.Create("e2e_latencies.csv")
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	w := csv.NewWriter(f)
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	w.Flush()
	f.Close()
	fmt.Println("Saved e2e_latencies.csv")
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

// postForm builds a multipart create-post body with a stub PNG attached.
func postForm(title string) (io.Reader, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", title)
	_ = mw.WriteField("content", "Measuring post to socket latency.")
	fw, _ := mw.CreateFormFile("image", "bench.png")
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n"))
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

// trimmedMean calculates the mean of a dataset excluding extreme values.
func trimmedMean(data []float64, trimPercent float64) float64 {
	data = trimmed(data, trimPercent)
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// trimmedPercentile returns a percentile value after trimming extremes.
func trimmedPercentile(data []float64, p float64, trimPercent float64) float64 {
	return percentile(trimmed(data, trimPercent), p)
}

func trimmed(data []float64, trimPercent float64) []float64 {
	sort.Float64s(data)
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	return data[trim : len(data)-trim]
}

// percentile calculates the requested percentile using linear interpolation.
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
