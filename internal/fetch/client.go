package fetch

import (
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statline-hub/statline-hub/internal/config"
)

// processRuntimeID 是默认的运行环境标识：同一进程内保持稳定。
var processRuntimeID = uint64(os.Getpid())

// clientHolder 把客户端与构建它的运行环境绑定在一起，整体替换、从不原地修改。
type clientHolder struct {
	ownerID uint64
	client  *http.Client
}

// ClientManager 管理共享的连接池客户端。Acquire 采用双重检查：
// 无锁快路径 + 加锁后二次确认，保证同一运行环境下最多存在一个存活客户端。
// 若探测到运行环境发生变化，会先尽力关闭旧客户端的空闲连接再重建。
type ClientManager struct {
	mu     sync.Mutex
	holder atomic.Pointer[clientHolder]

	cfg config.ClientConfig
	// runtimeID 返回当前运行环境的不透明标识，测试可注入以模拟环境切换。
	runtimeID func() uint64
}

// NewClientManager 构建管理器本身，不会立即创建客户端；配置已在启动阶段校验。
func NewClientManager(cfg config.ClientConfig) *ClientManager {
	return &ClientManager{
		cfg:       cfg,
		runtimeID: func() uint64 { return processRuntimeID },
	}
}

// Acquire 返回共享客户端，必要时惰性构建或因环境变化而重建。
func (m *ClientManager) Acquire() *http.Client {
	id := m.runtimeID()
	if h := m.holder.Load(); h != nil && h.ownerID == id {
		return h.client
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h := m.holder.Load(); h != nil {
		if h.ownerID == id {
			return h.client
		}
		h.client.CloseIdleConnections()
	}

	client := newPooledClient(m.cfg)
	m.holder.Store(&clientHolder{ownerID: id, client: client})
	return client
}

// Close 幂等关闭当前客户端；从未初始化时调用也是安全的。
func (m *ClientManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h := m.holder.Load(); h != nil {
		h.client.CloseIdleConnections()
		m.holder.Store(nil)
	}
}

// IsInitialized 是无阻塞的观测探针，不触发任何构建动作。
func (m *ClientManager) IsInitialized() bool {
	return m.holder.Load() != nil
}

// newPooledClient 按配置构建带连接池与超时的 http.Client，复用长连接。
func newPooledClient(cfg config.ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxConnections,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout.DurationValue(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &http.Client{
		Timeout:   cfg.Timeout.DurationValue(),
		Transport: transport,
	}
}
