package llm

import (
	"net"
	"net/http"
	"time"

	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// Pool defaults for LLM traffic: few hosts, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// NewPooledTransport creates an http.Transport with connection pooling
// sized by pool.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   orDefault(connTimeout, defaultConnTimeout),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: orDefault(respTimeout, defaultRespTimeout),
		MaxIdleConns:          orDefault(pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   orDefault(pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       orDefault(pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       orDefault(pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates the pooled *http.Client handed to every provider
// SDK. The overall deadline is the connect plus response timeout; callers
// usually impose a tighter one through the request context.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	connTimeout := orDefault(cfg.ConnTimeout, defaultConnTimeout)
	respTimeout := orDefault(cfg.RespTimeout, defaultRespTimeout)
	return &http.Client{
		Transport: NewPooledTransport(connTimeout, respTimeout, cfg.Pool),
		Timeout:   connTimeout + respTimeout,
	}
}
