package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID 生成监控实例ID
// 优先使用环境变量MONITOR_INSTANCE_ID，否则生成 pgha-monitor-{hostname}-{uuid前8位}
func GenerateInstanceID() string {
	if id := os.Getenv("MONITOR_INSTANCE_ID"); id != "" {
		return id
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	shortUUID := uuid.New().String()[:8]
	return fmt.Sprintf("pgha-monitor-%s-%s", hostname, shortUUID)
}
