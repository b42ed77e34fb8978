//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Walks one plan through its lifecycle against a running server:
//
//	PLANSTORE_TOKEN=<id token> go run plan_smoke.go
func main() {
	baseURL := "http://localhost:8080/v1/plan"
	if u := os.Getenv("PLANSTORE_URL"); u != "" {
		baseURL = u
	}
	token := os.Getenv("PLANSTORE_TOKEN")

	plan := map[string]any{
		"planCostShares": map[string]any{
			"deductible": 2000, "_org": "example.com", "copay": 23,
			"objectId": "smoke-cs-501", "objectType": "membercostshare",
		},
		"linkedPlanServices": []any{map[string]any{
			"linkedService": map[string]any{
				"_org": "example.com", "objectId": "smoke-svc-502",
				"objectType": "service", "name": "Yearly physical",
			},
			"planserviceCostShares": map[string]any{
				"deductible": 10, "_org": "example.com", "copay": 0,
				"objectId": "smoke-cs-503", "objectType": "membercostshare",
			},
			"_org": "example.com", "objectId": "smoke-ps-504", "objectType": "planservice",
		}},
		"_org":         "example.com",
		"objectId":     "smoke-plan-508",
		"objectType":   "plan",
		"planType":     "inNetwork",
		"creationDate": "12-12-2017",
	}
	planURL := fmt.Sprintf("%s/%s", baseURL, plan["objectId"])

	client := &http.Client{}
	passed, failed := 0, 0
	expect := func(step string, resp *http.Response, body []byte, want int) {
		if resp.StatusCode == want {
			fmt.Printf("PASS: %s (status: %d, etag: %s)\n", step, resp.StatusCode, resp.Header.Get("ETag"))
			passed++
			return
		}
		fmt.Printf("FAIL: %s - status: %d, want %d (body: %s)\n", step, resp.StatusCode, want, string(body))
		failed++
	}
	send := func(method, url string, payload any, headers map[string]string) (*http.Response, []byte) {
		var reader io.Reader
		if payload != nil {
			jsonData, err := json.Marshal(payload)
			if err != nil {
				fmt.Printf("Error marshaling JSON: %v\n", err)
				os.Exit(1)
			}
			reader = bytes.NewBuffer(jsonData)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			fmt.Printf("Error creating request: %v\n", err)
			os.Exit(1)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Error sending %s %s: %v\n", method, url, err)
			os.Exit(1)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return resp, body
	}

	fmt.Println("=== PHASE 1: CREATE ===")
	resp, body := send(http.MethodPost, baseURL, plan, nil)
	expect("POST plan", resp, body, http.StatusCreated)
	etag := resp.Header.Get("ETag")

	resp, body = send(http.MethodPost, baseURL, plan, nil)
	expect("POST plan again", resp, body, http.StatusConflict)

	fmt.Println("\n=== PHASE 2: READ ===")
	resp, body = send(http.MethodGet, planURL, nil, nil)
	expect("GET plan", resp, body, http.StatusOK)

	resp, body = send(http.MethodGet, planURL, nil, map[string]string{"If-None-Match": etag})
	expect("GET plan with If-None-Match", resp, body, http.StatusNotModified)

	fmt.Println("\n=== PHASE 3: REPLACE ===")
	plan["planType"] = "outOfNetwork"
	resp, body = send(http.MethodPut, planURL, plan, map[string]string{"If-Match": "stale"})
	expect("PUT plan with stale ETag", resp, body, http.StatusPreconditionFailed)

	resp, body = send(http.MethodPut, planURL, plan, map[string]string{"If-Match": etag})
	expect("PUT plan", resp, body, http.StatusOK)
	etag = resp.Header.Get("ETag")

	plan["price"] = "not a number"
	resp, body = send(http.MethodPatch, planURL, plan, map[string]string{"If-Match": etag})
	expect("PATCH plan violating the schema", resp, body, http.StatusBadRequest)

	fmt.Println("\n=== PHASE 4: DELETE ===")
	resp, body = send(http.MethodDelete, planURL, nil, nil)
	expect("DELETE plan without If-Match", resp, body, http.StatusNotFound)

	resp, body = send(http.MethodDelete, planURL, nil, map[string]string{"If-Match": etag})
	expect("DELETE plan", resp, body, http.StatusNoContent)

	resp, body = send(http.MethodGet, planURL, nil, nil)
	expect("GET deleted plan", resp, body, http.StatusNotFound)

	fmt.Printf("\n=== FINAL RESULTS ===\n")
	fmt.Printf("Passed: %d, Failed: %d\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
