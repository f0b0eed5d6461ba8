// README: Bench cases for a live dispatchd: smoke checks, concurrent accept and location load.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"courierdispatch/internal/modules/matching"
)

func (r *runner) id(name string) string { return r.run + "-" + name }

func (r *runner) cases() []benchCase {
	pickup := map[string]float64{"lat": 13.76, "lng": 121.06}
	dropoff := map[string]float64{"lat": 13.77, "lng": 121.07}
	courierID := r.id("c1")
	orderID := r.id("j1")

	return []benchCase{
		r.expect("Health", http.MethodGet, "/health", "", nil, http.StatusOK),
		r.expect("Auth required", http.MethodPost, "/api/v1/dispatch", "", map[string]any{}, http.StatusUnauthorized),
		r.expect("Courier upsert", http.MethodPut, "/api/v1/couriers/"+courierID, "admin:bench", map[string]any{
			"online": true, "verified": true, "max_jobs": 3, "performance_score": 90, "rating": 4.9, "on_time_rate": 95,
		}, http.StatusOK),
		r.expect("Courier location", http.MethodPut, "/api/v1/couriers/"+courierID+"/location", "courier:"+courierID, map[string]any{
			"lat": 13.7565, "lng": 121.0583, "accuracy": 5,
		}, http.StatusAccepted),
		{Name: "Geo index holds courier", Run: func(ctx context.Context, r *runner) benchResult {
			if r.redis == nil {
				return benchResult{Status: statusSkip, Note: "no --redis"}
			}
			pos, err := r.redis.GeoPos(ctx, matching.CourierGeoKey, courierID).Result()
			if err != nil {
				return benchResult{Status: statusFail, Note: err.Error()}
			}
			if len(pos) == 0 || pos[0] == nil {
				return benchResult{Status: statusFail, Note: "courier not indexed"}
			}
			return benchResult{Status: statusPass}
		}},
		r.expect("Order create", http.MethodPost, "/api/v1/orders", "vendor:bench", map[string]any{
			"order_id": orderID, "customer_id": r.id("cust"), "pickup": pickup, "dropoff": dropoff,
		}, http.StatusCreated),
		{Name: "Dispatch assigns courier", Run: func(ctx context.Context, r *runner) benchResult {
			var out struct {
				AssignmentID string `json:"assignment_id"`
				Status       string `json:"status"`
			}
			res, status := r.do(ctx, http.MethodPost, "/api/v1/dispatch", "vendor:bench", map[string]any{
				"job_id": orderID, "pickup": pickup, "dropoff": dropoff, "priority": 5, "estimated_value": 1500,
			}, &out)
			if res.Status == statusFail {
				return res
			}
			if status != http.StatusCreated || out.Status != "assigned" {
				return benchResult{Status: statusFail, Latency: res.Latency, Note: fmt.Sprintf("status=%d assignment=%s", status, out.Status)}
			}
			r.assignment = out.AssignmentID
			return benchResult{Status: statusPass, Latency: res.Latency, Note: "assignment=" + out.AssignmentID}
		}},
		{Name: "Concurrent accept settles once", Run: func(ctx context.Context, r *runner) benchResult {
			if r.assignment == "" {
				return benchResult{Status: statusSkip, Note: "no assignment"}
			}
			return concurrentAccept(ctx, r, "/api/v1/assignments/"+r.assignment+"/accept", courierID)
		}},
		{Name: "Location ingest load", Run: func(ctx context.Context, r *runner) benchResult {
			return perfLoad(ctx, r, http.MethodPut, "/api/v1/couriers/"+courierID+"/location", "courier:"+courierID, map[string]any{
				"lat": 13.7566, "lng": 121.0584,
			})
		}},
	}
}

func (r *runner) expect(name, method, path, token string, body any, want int) benchCase {
	return benchCase{
		Name: name,
		Run: func(ctx context.Context, r *runner) benchResult {
			res, status := r.do(ctx, method, path, token, body, nil)
			if res.Status == statusFail {
				return res
			}
			res.Note = fmt.Sprintf("status=%d", status)
			if status != want {
				res.Status = statusFail
			}
			return res
		},
	}
}

// do sends one request; a transport error yields a FAIL result.
func (r *runner) do(ctx context.Context, method, path, token string, body, out any) (benchResult, int) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return benchResult{Status: statusFail, Note: err.Error()}, 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return benchResult{Status: statusFail, Note: err.Error()}, 0
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return benchResult{Status: statusPass, Latency: time.Since(start)}, resp.StatusCode
}

func concurrentAccept(ctx context.Context, r *runner, path, courierID string) benchResult {
	var succ, conflict atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, status := r.do(ctx, http.MethodPost, path, "courier:"+courierID, map[string]any{"courier_id": courierID}, nil)
			if res.Status == statusFail {
				return
			}
			switch status {
			case http.StatusOK:
				succ.Add(1)
			case http.StatusConflict:
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ.Load(), conflict.Load())
	if succ.Load() == 1 {
		return benchResult{Status: statusPass, Note: note}
	}
	return benchResult{Status: statusFail, Note: note}
}

func perfLoad(ctx context.Context, r *runner, method, path, token string, payload any) benchResult {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				res, status := r.do(ctx, method, path, token, payload, nil)
				if res.Status == statusFail || status >= 300 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return benchResult{Status: statusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount.Load())}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return benchResult{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}
