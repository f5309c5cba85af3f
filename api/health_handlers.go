package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/version"
)

const (
	depDialTimeout  = 2 * time.Second
	qdrantProbeTime = 3 * time.Second
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": s.cfg.AppName,
		"env":     s.cfg.Env,
		"version": version.ServiceVersion(),
	})
}

// hostPort extracts the dialable address of a connection URL, applying the
// scheme's default port when the URL omits one.
func hostPort(raw string, defaultPort string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := parsed.Host
	if !strings.Contains(host, ":") {
		host = net.JoinHostPort(host, defaultPort)
	}
	return host
}

func tcpReachable(addr string) bool {
	if addr == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", addr, depDialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// handleHealthDeps is the readiness probe: TCP reachability for redis and
// postgres, HTTP health for qdrant.
func (s *Server) handleHealthDeps(c echo.Context) error {
	redisOK := tcpReachable(hostPort(s.cfg.RedisURL, "6379"))
	postgresOK := tcpReachable(hostPort(s.cfg.DatabaseURL, "5432"))

	qdrantOK := false
	client := &http.Client{Timeout: qdrantProbeTime}
	if resp, err := client.Get(strings.TrimRight(s.cfg.QdrantURL, "/") + "/healthz"); err == nil {
		qdrantOK = resp.StatusCode == http.StatusOK
		_ = resp.Body.Close()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"redis":       redisOK,
		"postgres":    postgresOK,
		"qdrant":      qdrantOK,
		"all_healthy": redisOK && postgresOK && qdrantOK,
	})
}
