// Package main은 clawnode CLI의 진입점입니다.
// 이 장치를 WebSocket으로 컨트롤러에 연결하는 노드를 실행합니다.
package main

import (
	"os"

	"github.com/openclaw/clawnode/cmd"
)

// 빌드 시 ldflags로 주입되는 버전 정보
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
