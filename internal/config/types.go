package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// UpstreamConfig 描述 CBS OData 与 data.overheid.nl 的基础地址。
type UpstreamConfig struct {
	CatalogBaseURL string `mapstructure:"CatalogBaseURL"`
	DataBaseURL    string `mapstructure:"DataBaseURL"`
	CKANBaseURL    string `mapstructure:"CKANBaseURL"`
}

// ClientConfig 决定共享 HTTP 连接池与重试策略的行为。
type ClientConfig struct {
	Timeout            Duration `mapstructure:"Timeout"`
	ConnectTimeout     Duration `mapstructure:"ConnectTimeout"`
	MaxConnections     int      `mapstructure:"MaxConnections"`
	MaxIdleConnections int      `mapstructure:"MaxIdleConnections"`
	MaxRetries         int      `mapstructure:"MaxRetries"`
	RetryMinWait       Duration `mapstructure:"RetryMinWait"`
	RetryMaxWait       Duration `mapstructure:"RetryMaxWait"`
}

// CacheConfig 描述磁盘缓存文件与各级 TTL。
type CacheConfig struct {
	StoragePath       string   `mapstructure:"StoragePath"`
	CatalogCacheFile  string   `mapstructure:"CatalogCacheFile"`
	ArtifactCacheFile string   `mapstructure:"ArtifactCacheFile"`
	CatalogTTL        Duration `mapstructure:"CatalogTTL"`
	DimensionTTL      Duration `mapstructure:"DimensionTTL"`
}

// GlobalConfig 描述全局运行时行为（监听端口、日志、取数上限）。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	BatchSize     int    `mapstructure:"BatchSize"`
	MaxRecords    int    `mapstructure:"MaxRecords"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Upstream UpstreamConfig `mapstructure:"Upstream"`
	Client   ClientConfig   `mapstructure:"Client"`
	Cache    CacheConfig    `mapstructure:"Cache"`
}

// CatalogCachePath 返回目录合并后的完整缓存文件路径。
func (c *Config) CatalogCachePath() string {
	return joinStorage(c.Cache.StoragePath, c.Cache.CatalogCacheFile)
}

// ArtifactCachePath 返回已下载数据集索引文件的完整路径。
func (c *Config) ArtifactCachePath() string {
	return joinStorage(c.Cache.StoragePath, c.Cache.ArtifactCacheFile)
}

// DownloadsPath 返回数据集正文落盘目录。
func (c *Config) DownloadsPath() string {
	return joinStorage(c.Cache.StoragePath, "downloads")
}
