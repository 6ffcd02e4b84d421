package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// 配置文件缺失时直接使用默认值启动，方便零配置试用。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Cache.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Cache.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("BatchSize", 1000)
	v.SetDefault("MaxRecords", 1_000_000)

	v.SetDefault("Upstream.CatalogBaseURL", "https://opendata.cbs.nl/ODataCatalog")
	v.SetDefault("Upstream.DataBaseURL", "https://opendata.cbs.nl/ODataApi/OData")
	v.SetDefault("Upstream.CKANBaseURL", "https://data.overheid.nl/data/api/3/action")

	v.SetDefault("Client.Timeout", "30s")
	v.SetDefault("Client.ConnectTimeout", "10s")
	v.SetDefault("Client.MaxConnections", 100)
	v.SetDefault("Client.MaxIdleConnections", 20)
	v.SetDefault("Client.MaxRetries", 3)
	v.SetDefault("Client.RetryMinWait", "1s")
	v.SetDefault("Client.RetryMaxWait", "10s")

	v.SetDefault("Cache.StoragePath", "./storage")
	v.SetDefault("Cache.CatalogCacheFile", "catalog_cache.json")
	v.SetDefault("Cache.ArtifactCacheFile", "artifact_cache.json")
	v.SetDefault("Cache.CatalogTTL", "24h")
	v.SetDefault("Cache.DimensionTTL", "1h")
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 5000
	}
	if cfg.Global.BatchSize <= 0 {
		cfg.Global.BatchSize = 1000
	}
	if cfg.Global.MaxRecords <= 0 {
		cfg.Global.MaxRecords = 1_000_000
	}
	if cfg.Client.Timeout.DurationValue() == 0 {
		cfg.Client.Timeout = Duration(30 * time.Second)
	}
	if cfg.Client.ConnectTimeout.DurationValue() == 0 {
		cfg.Client.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.Client.MaxConnections <= 0 {
		cfg.Client.MaxConnections = 100
	}
	if cfg.Client.MaxIdleConnections <= 0 {
		cfg.Client.MaxIdleConnections = 20
	}
	if cfg.Client.RetryMinWait.DurationValue() == 0 {
		cfg.Client.RetryMinWait = Duration(time.Second)
	}
	if cfg.Client.RetryMaxWait.DurationValue() == 0 {
		cfg.Client.RetryMaxWait = Duration(10 * time.Second)
	}
	if cfg.Cache.CatalogTTL.DurationValue() == 0 {
		cfg.Cache.CatalogTTL = Duration(24 * time.Hour)
	}
	if cfg.Cache.DimensionTTL.DurationValue() == 0 {
		cfg.Cache.DimensionTTL = Duration(time.Hour)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func joinStorage(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
