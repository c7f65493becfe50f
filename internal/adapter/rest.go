package adapter

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// newRESTClient returns the resty client shared by the REST and GraphQL
// adapters. Retries are left to callers.
func newRESTClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "portfolio-dashboard/1.0")
}
