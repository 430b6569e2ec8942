package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type variant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int64  `json:"stock"`
	Sold  int64  `json:"sold"`
}

type campaign struct {
	ID       string `json:"id"`
	Products []struct {
		ID       string    `json:"id"`
		Variants []variant `json:"variants"`
	} `json:"products"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token")
	stock := flag.Int64("stock", 10, "variant stock for the test campaign")

	// 超卖测试参数：200 个用户并发抢 10 件
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	admin := map[string]string{"X-Admin-Token": *adminToken}

	// 先建一个库存有限的活动
	var created struct {
		Data campaign `json:"data"`
	}
	err := doJSON(client, http.MethodPost, *baseURL+"/api/admin/campaigns", map[string]any{
		"title":          fmt.Sprintf("loadtest %s", time.Now().Format(time.RFC3339)),
		"thresholdValue": *stock,
		"endTime":        time.Now().Add(time.Hour).Format(time.RFC3339),
		"products": []map[string]any{{
			"id": "p1", "name": "压测商品",
			"variants": []map[string]any{{"id": "v1", "name": "默认", "price": 1, "stock": *stock}},
		}},
	}, admin, &created)
	if err != nil {
		panic(fmt.Sprintf("create campaign failed: %v", err))
	}
	gid := created.Data.ID
	fmt.Println("campaign ready:", gid)

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: campaign=%s stock=%d users=%d concurrency=%d\n", gid, *stock, *nUsers, *concurrency)
	results := runOrders(client, *baseURL, gid, *nUsers, *concurrency, func(idx int) string {
		return fmt.Sprintf("load-user-%d", idx+1)
	})
	printSummary("oversell", results)

	var got struct {
		Data campaign `json:"data"`
	}
	if err := doJSON(client, http.MethodGet, *baseURL+"/api/campaigns/"+gid, nil, nil, &got); err != nil {
		fmt.Println("campaign check err:", err)
	} else if len(got.Data.Products) > 0 && len(got.Data.Products[0].Variants) > 0 {
		v := got.Data.Products[0].Variants[0]
		fmt.Printf("final sold=%d stock=%d oversold=%v\n", v.Sold, v.Stock, v.Sold > v.Stock)
	}

	// 2) 限流测试：同一个 user 重复下单
	fmt.Println("\nstart rate limit test: same user, 50 requests, concurrency 50")
	results2 := runOrders(client, *baseURL, gid, 50, 50, func(int) string { return "load-user-same" })
	printSummary("rate_limit", results2)
}

func runOrders(client *http.Client, baseURL, gid string, total, concurrency int, userOf func(int) string) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := map[string]any{
				"userId": userOf(idx),
				"items": []map[string]any{{
					"groupBuyId": gid, "productId": "p1", "variantId": "v1", "quantity": 1,
				}},
				"shippingInfo": map[string]any{"name": "压测", "phone": "0900000000"},
			}
			results[idx] = orderOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func orderOnce(client *http.Client, baseURL string, req any) Result {
	b, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doJSON 发送请求并解析响应（支持附加请求头）。
func doJSON(client *http.Client, method, url string, body any, headers map[string]string, out any) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}
