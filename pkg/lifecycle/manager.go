// Package lifecycle 协调后台服务的停机。
// 上层为每个停机阶段创建一个 Manager，每个后台循环从中领取一个 Handle。
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager 记录已注册的后台服务，并能一次性向它们广播停机信号
type Manager struct {
	name string
	log  zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	services map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager 创建一个生命周期管理器，name 只用于日志
func NewManager(name string, log zerolog.Logger) *Manager {
	m := &Manager{
		name:     name,
		log:      log.With().Str("lifecycle", name).Logger(),
		services: make(map[string]bool),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// NewServiceHandle 为服务注册并返回句柄，同名服务不能重复注册
func (m *Manager) NewServiceHandle(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.services[name] {
		return nil, fmt.Errorf("lifecycle %s: 服务 %q 已被注册", m.name, name)
	}
	m.services[name] = true
	m.wg.Add(1)
	m.log.Debug().Str("service", name).Msg("服务已注册")

	var once sync.Once
	return &Handle{
		name: name,
		ctx:  m.ctx,
		Close: func() {
			once.Do(func() {
				m.mu.Lock()
				delete(m.services, name)
				m.mu.Unlock()
				m.wg.Done()
			})
		},
	}, nil
}

// Go 注册服务并在新的goroutine中运行 fn，fn 返回时自动 Close
func (m *Manager) Go(name string, fn func(h *Handle)) error {
	h, err := m.NewServiceHandle(name)
	if err != nil {
		return err
	}
	go func() {
		defer h.Close()
		fn(h)
	}()
	return nil
}

// Shutdown 广播停机信号，可以重复调用
func (m *Manager) Shutdown() {
	m.log.Info().Msg("广播停机信号")
	m.cancel()
}

// WaitWithTimeout 等待所有服务退出，超时返回仍未退出的服务名
func (m *Manager) WaitWithTimeout(timeout time.Duration) []string {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return m.remaining()
	}
}

func (m *Manager) remaining() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
