//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

type Result struct {
	ObjectID string
	ETag     string
	Success  bool
	Duration time.Duration
	Error    string
}

type Stats struct {
	Results       []Result
	WallClockTime time.Duration
}

var (
	baseURL = "http://localhost:8080/v1/plan"
	token   = os.Getenv("PLANSTORE_TOKEN")
	client  = &http.Client{Timeout: 10 * time.Second}
)

func main() {
	if u := os.Getenv("PLANSTORE_URL"); u != "" {
		baseURL = u
	}

	plans := generatePlans(500)

	fmt.Println("=== LOAD TEST ===")
	fmt.Printf("Target: %s\n", baseURL)
	fmt.Printf("Plans: %d\n", len(plans))
	fmt.Println()

	fmt.Println("=== PHASE 1: PARALLEL CREATES ===")
	createStats := parallel(plans, doCreate)
	printStats("Create", createStats)

	etags := make(map[string]string, len(createStats.Results))
	for _, r := range createStats.Results {
		etags[r.ObjectID] = r.ETag
	}

	fmt.Println("\n=== PHASE 2: PARALLEL READS ===")
	readStats := parallel(plans, doRead)
	printStats("Read", readStats)

	fmt.Println("\n=== PHASE 3: CLEANUP ===")
	deleteStats := parallel(plans, func(id string) Result { return doDelete(id, etags[id]) })
	printStats("Delete", deleteStats)

	fmt.Println("\n=== TEST COMPLETE ===")
}

func generatePlans(count int) []string {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, fmt.Sprintf("load-plan-%04d", i))
	}
	return ids
}

func parallel(ids []string, op func(id string) Result) Stats {
	var wg sync.WaitGroup
	results := make([]Result, 0, len(ids))
	resultChan := make(chan Result, len(ids))

	startTime := time.Now()

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resultChan <- op(id)
		}(id)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		results = append(results, result)
	}

	return Stats{Results: results, WallClockTime: time.Since(startTime)}
}

func newRequest(method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func doCreate(id string) Result {
	start := time.Now()
	jsonData, err := json.Marshal(map[string]any{
		"objectType": "plan",
		"objectId":   id,
		"_org":       "example.com",
		"planType":   "inNetwork",
		"planCostShares": map[string]any{
			"deductible": 2000, "_org": "example.com", "copay": 23,
			"objectId": id + "-cs", "objectType": "membercostshare",
		},
	})
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}

	req, err := newRequest(http.MethodPost, baseURL, jsonData)
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}
	defer resp.Body.Close()

	success := resp.StatusCode == http.StatusCreated
	return Result{ObjectID: id, ETag: resp.Header.Get("ETag"), Success: success, Duration: time.Since(start)}
}

func doRead(id string) Result {
	start := time.Now()
	req, err := newRequest(http.MethodGet, fmt.Sprintf("%s/%s", baseURL, id), nil)
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{ObjectID: id, Duration: time.Since(start), Error: fmt.Sprintf("status: %d", resp.StatusCode)}
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: "parse error"}
	}
	return Result{ObjectID: id, Success: doc["objectId"] == id, Duration: time.Since(start)}
}

func doDelete(id, etag string) Result {
	start := time.Now()
	req, err := newRequest(http.MethodDelete, fmt.Sprintf("%s/%s", baseURL, id), nil)
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}
	req.Header.Set("If-Match", etag)

	resp, err := client.Do(req)
	if err != nil {
		return Result{ObjectID: id, Duration: time.Since(start), Error: err.Error()}
	}
	defer resp.Body.Close()

	return Result{ObjectID: id, Success: resp.StatusCode == http.StatusNoContent, Duration: time.Since(start)}
}

func printStats(operation string, stats Stats) {
	results := stats.Results
	if len(results) == 0 {
		return
	}
	var successCount, failCount int
	var minDuration, maxDuration time.Duration
	var totalLatency time.Duration

	minDuration = time.Hour

	for _, r := range results {
		if r.Success {
			successCount++
		} else {
			failCount++
		}
		totalLatency += r.Duration
		if r.Duration < minDuration {
			minDuration = r.Duration
		}
		if r.Duration > maxDuration {
			maxDuration = r.Duration
		}
	}

	avgLatency := totalLatency / time.Duration(len(results))
	throughput := float64(len(results)) / stats.WallClockTime.Seconds()

	fmt.Printf("\n%s Statistics:\n", operation)
	fmt.Printf("  Total:          %d\n", len(results))
	fmt.Printf("  Success:        %d\n", successCount)
	fmt.Printf("  Failed:         %d\n", failCount)
	fmt.Printf("  Min Latency:    %v\n", minDuration)
	fmt.Printf("  Max Latency:    %v\n", maxDuration)
	fmt.Printf("  Avg Latency:    %v\n", avgLatency)
	fmt.Printf("  Wall Clock:     %v\n", stats.WallClockTime)
	fmt.Printf("  Throughput:     %.2f ops/sec\n", throughput)
}
