package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.BatchSize <= 0 {
		return newFieldError("BatchSize", "必须大于 0")
	}
	if g.MaxRecords <= 0 {
		return newFieldError("MaxRecords", "必须大于 0")
	}

	if c.Cache.StoragePath == "" {
		return newFieldError("Cache.StoragePath", "不能为空")
	}
	if c.Cache.CatalogCacheFile == "" {
		return newFieldError("Cache.CatalogCacheFile", "不能为空")
	}
	if c.Cache.ArtifactCacheFile == "" {
		return newFieldError("Cache.ArtifactCacheFile", "不能为空")
	}
	if c.Cache.CatalogTTL.DurationValue() <= 0 {
		return newFieldError("Cache.CatalogTTL", "必须大于 0")
	}
	if c.Cache.DimensionTTL.DurationValue() <= 0 {
		return newFieldError("Cache.DimensionTTL", "必须大于 0")
	}

	cl := c.Client
	if cl.Timeout.DurationValue() <= 0 {
		return newFieldError("Client.Timeout", "必须大于 0")
	}
	if cl.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("Client.ConnectTimeout", "必须大于 0")
	}
	if cl.MaxConnections <= 0 {
		return newFieldError("Client.MaxConnections", "必须大于 0")
	}
	if cl.MaxIdleConnections <= 0 {
		return newFieldError("Client.MaxIdleConnections", "必须大于 0")
	}
	if cl.MaxRetries < 0 {
		return newFieldError("Client.MaxRetries", "不能为负数")
	}
	if cl.RetryMinWait.DurationValue() <= 0 {
		return newFieldError("Client.RetryMinWait", "必须大于 0")
	}
	if cl.RetryMaxWait.DurationValue() < cl.RetryMinWait.DurationValue() {
		return newFieldError("Client.RetryMaxWait", "不能小于 RetryMinWait")
	}

	if err := validateUpstream(c.Upstream.CatalogBaseURL); err != nil {
		return fmt.Errorf("Upstream.CatalogBaseURL: %w", err)
	}
	if err := validateUpstream(c.Upstream.DataBaseURL); err != nil {
		return fmt.Errorf("Upstream.DataBaseURL: %w", err)
	}
	if err := validateUpstream(c.Upstream.CKANBaseURL); err != nil {
		return fmt.Errorf("Upstream.CKANBaseURL: %w", err)
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
