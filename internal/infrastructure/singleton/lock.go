// Package singleton 保证同一端口上只运行一个引擎实例
package singleton

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// HealthCheckTimeout 健康检查超时时间
const HealthCheckTimeout = 2 * time.Second

// wsaeAddrInUse Windows 下的 WSAEADDRINUSE
const wsaeAddrInUse = syscall.Errno(10048)

// ErrPortConflict 端口被其他程序或不健康的实例占用
var ErrPortConflict = errors.New("port is occupied by another process")

// HealthStatus /health 的响应体
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// CheckAndLock 尝试占用端口
// 端口空闲时返回 listener；同名服务已在运行时返回 nil, nil，调用方应直接退出
func CheckAndLock(addr, service string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err == nil {
		return listener, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	running, healthErr := checkHealth(addr)
	if healthErr != nil {
		return nil, fmt.Errorf("%w: %s: health check failed: %v", ErrPortConflict, addr, healthErr)
	}
	if running.Service != service {
		return nil, fmt.Errorf("%w: %s is served by %q", ErrPortConflict, addr, running.Service)
	}
	return nil, nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, wsaeAddrInUse)
}

// checkHealth 请求已占用端口上的 /health
func checkHealth(addr string) (*HealthStatus, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	client := &http.Client{Timeout: HealthCheckTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &status, nil
}
