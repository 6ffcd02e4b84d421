package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供取数请求的公共字段，供重试/缓存日志复用。
func FetchFields(action, url string, attempt int) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"url":     url,
		"attempt": attempt,
	}
}

// DatasetFields 提供数据集维度的公共字段，供服务层日志复用。
func DatasetFields(action, datasetID string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"dataset_id": datasetID,
	}
}
