package capability

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
)

// DeviceInfoName은 내장 device.info capability 이름입니다.
const DeviceInfoName = "device.info"

// DeviceInfoVersion은 device.info 결과 형식 버전입니다.
const DeviceInfoVersion = 1

// DeviceInfo는 register.device에 싣는 장치 정보를 반환합니다.
func DeviceInfo(platform, deviceName, appVersion string) map[string]interface{} {
	hostname, _ := os.Hostname()
	if deviceName == "" {
		deviceName = hostname
	}
	return map[string]interface{}{
		"name":       deviceName,
		"hostname":   hostname,
		"platform":   platform,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"goVersion":  runtime.Version(),
		"numCPU":     runtime.NumCPU(),
		"appVersion": appVersion,
	}
}

// DeviceInfoExecutor는 호출 시점의 DeviceInfo를 JSON으로 반환하는 실행기입니다.
func DeviceInfoExecutor(platform, deviceName, appVersion string) Executor {
	return ExecutorFunc(func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return json.Marshal(DeviceInfo(platform, deviceName, appVersion))
	})
}
