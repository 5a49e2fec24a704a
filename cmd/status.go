// status.go는 노드 상태 확인 명령을 구현합니다.
package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/clawnode/internal/config"
	"github.com/openclaw/clawnode/internal/protocol"
	"github.com/openclaw/clawnode/internal/websocket"
)

// StatusInfo는 상태 파일과 status 명령이 공유하는 상태 정보입니다.
type StatusInfo struct {
	// State는 등록 상태 머신의 현재 상태입니다.
	State string `json:"state"`
	// Connected는 소켓이 열려 있는지 여부입니다.
	Connected bool `json:"connected"`
	// Registered는 register_ack ok를 받았는지 여부입니다.
	Registered bool `json:"registered"`
	// NodeID는 이 노드의 식별자입니다.
	NodeID string `json:"node_id,omitempty"`
	// SessionID는 컨트롤러가 발급한 세션 ID입니다.
	SessionID string `json:"session_id,omitempty"`
	// ControllerURL은 연결 대상 URL입니다.
	ControllerURL string `json:"controller_url,omitempty"`
	// LastError는 마지막으로 보고된 에러 코드입니다.
	LastError string `json:"last_error,omitempty"`
	// Attempts는 연속 재연결 시도 횟수입니다.
	Attempts int `json:"attempts"`
	// Capabilities는 등록한 capability 이름 목록입니다.
	Capabilities []string `json:"capabilities,omitempty"`
	// StartTime은 프로세스 시작 시간입니다.
	StartTime *time.Time `json:"start_time,omitempty"`
	// Uptime은 실행 시간입니다.
	Uptime string `json:"uptime,omitempty"`
	// PID는 실행 중인 프로세스 ID입니다.
	PID int `json:"pid,omitempty"`
}

// newStatusInfo는 Manager 스냅샷으로 StatusInfo를 만듭니다.
func newStatusInfo(st websocket.Status, nodeID string, caps []protocol.Capability, start time.Time) *StatusInfo {
	info := &StatusInfo{
		State:         st.State,
		Connected:     st.Connected,
		Registered:    st.Registered,
		NodeID:        nodeID,
		SessionID:     st.SessionID,
		ControllerURL: st.URL,
		LastError:     st.LastError,
		Attempts:      st.Attempts,
		PID:           os.Getpid(),
	}
	for _, c := range caps {
		info.Capabilities = append(info.Capabilities, c.Name)
	}
	if !start.IsZero() {
		info.StartTime = &start
	}
	return info
}

// statusCmd는 현재 노드 상태를 확인하는 명령어입니다.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "현재 노드 상태를 확인합니다",
	Long: `실행 중인 clawnode의 연결 상태를 표시합니다.

표시 항목:
  - 상태 머신 상태와 연결/등록 여부
  - 노드 ID, 세션 ID, 컨트롤러 URL
  - 마지막 에러와 재연결 시도 횟수

기본적으로 connect가 기록한 상태 파일을 읽습니다.
--addr를 지정하면 실행 중인 노드의 /status 엔드포인트를 조회합니다.`,
	RunE: runStatus,
}

var (
	statusJSON   bool
	statusSimple bool
	statusAddr   string
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON 형식으로 출력")
	statusCmd.Flags().BoolVarP(&statusSimple, "simple", "s", false, "간단한 형식으로 출력")
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "조회할 노드의 HTTP 주소 (예: 127.0.0.1:9464)")
}

// runStatus는 status 명령의 실행 로직입니다.
func runStatus(cmd *cobra.Command, args []string) error {
	var (
		status *StatusInfo
		err    error
	)
	if statusAddr != "" {
		status, err = fetchStatus(statusAddr)
	} else {
		status, err = collectStatus(getStatusFilePath())
	}
	if err != nil {
		return fmt.Errorf("상태 수집 실패: %w", err)
	}

	if statusJSON {
		return printStatusJSON(status)
	}
	if statusSimple {
		return printStatusSimple(status)
	}
	return printStatusFull(status)
}

// collectStatus는 상태 파일에서 상태 정보를 읽습니다.
// 파일이 없거나 기록한 프로세스가 종료되었으면 DISCONNECTED 상태를 반환합니다.
func collectStatus(statusFile string) (*StatusInfo, error) {
	status := &StatusInfo{State: "DISCONNECTED"}

	if data, err := os.ReadFile(statusFile); err == nil {
		var fileStatus StatusInfo
		if err := json.Unmarshal(data, &fileStatus); err != nil {
			return nil, fmt.Errorf("상태 파일 파싱 실패: %w", err)
		}
		status = &fileStatus

		if status.PID > 0 && !isProcessRunning(status.PID) {
			status.State = "DISCONNECTED"
			status.Connected = false
			status.Registered = false
			status.SessionID = ""
			status.PID = 0
		}

		if status.PID > 0 && status.StartTime != nil {
			status.Uptime = formatDuration(time.Since(*status.StartTime))
		}
	}

	if status.ControllerURL == "" {
		if cfg, err := config.Load(); err == nil {
			status.ControllerURL = cfg.Controller.URL
		}
	}

	return status, nil
}

// fetchStatus는 실행 중인 노드의 /status 엔드포인트를 조회합니다.
func fetchStatus(addr string) (*StatusInfo, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return nil, fmt.Errorf("상태 조회 실패: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("상태 조회 실패: HTTP %d", resp.StatusCode)
	}

	var status StatusInfo
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("상태 응답 파싱 실패: %w", err)
	}
	if status.StartTime != nil {
		status.Uptime = formatDuration(time.Since(*status.StartTime))
	}
	return &status, nil
}

// printStatusJSON는 JSON 형식으로 상태를 출력합니다.
func printStatusJSON(status *StatusInfo) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON 직렬화 실패: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// printStatusSimple는 간단한 형식으로 상태를 출력합니다.
func printStatusSimple(status *StatusInfo) error {
	switch {
	case status.Registered:
		fmt.Println("registered")
	case status.Connected:
		fmt.Println("connected")
	default:
		fmt.Println("disconnected")
	}
	return nil
}

// printStatusFull는 전체 형식으로 상태를 출력합니다.
func printStatusFull(status *StatusInfo) error {
	fmt.Println("clawnode 상태")
	fmt.Println("=============")
	fmt.Println()

	fmt.Printf("상태:        %s\n", status.State)
	if status.PID > 0 {
		fmt.Printf("프로세스 ID: %d\n", status.PID)
	}
	if status.NodeID != "" {
		fmt.Printf("노드 ID:     %s\n", status.NodeID)
	}
	if status.ControllerURL != "" {
		fmt.Printf("컨트롤러:    %s\n", status.ControllerURL)
	}
	if status.SessionID != "" {
		fmt.Printf("세션 ID:     %s\n", status.SessionID)
	}
	if status.Uptime != "" {
		fmt.Printf("실행 시간:   %s\n", status.Uptime)
	}

	fmt.Println()

	fmt.Println("연결")
	fmt.Println("----")
	fmt.Printf("소켓:        %s\n", yesNo(status.Connected, "열림", "닫힘"))
	fmt.Printf("등록:        %s\n", yesNo(status.Registered, "완료", "안 됨"))
	fmt.Printf("재연결 시도: %d\n", status.Attempts)
	if status.LastError != "" {
		fmt.Printf("마지막 에러: %s\n", status.LastError)
	}

	if len(status.Capabilities) > 0 {
		fmt.Println()
		fmt.Println("Capabilities")
		fmt.Println("------------")
		for _, name := range status.Capabilities {
			fmt.Printf("  - %s\n", name)
		}
	}

	if !status.Connected && status.PID == 0 {
		fmt.Println()
		fmt.Println("컨트롤러에 연결하려면:")
		fmt.Println("  clawnode connect --url wss://<controller>/gateway")
	}

	return nil
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

// getStatusFilePath는 상태 파일 경로를 반환합니다.
func getStatusFilePath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "status.json")
}

// isProcessRunning은 주어진 PID의 프로세스가 실행 중인지 확인합니다.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Unix 계열에서는 Signal 0을 보내서 프로세스 존재 확인
	return process.Signal(syscall.Signal(0)) == nil
}

// formatDuration은 기간을 읽기 쉬운 형식으로 포맷합니다.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%d일 %d시간 %d분", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%d시간 %d분 %d초", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%d분 %d초", minutes, seconds)
	}
	return fmt.Sprintf("%d초", seconds)
}

// SaveStatus는 현재 상태를 path에 저장합니다.
func SaveStatus(path string, status *StatusInfo) error {
	if path == "" {
		return fmt.Errorf("상태 파일 경로를 찾을 수 없습니다")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("상태 디렉토리 생성 실패: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON 직렬화 실패: %w", err)
	}

	// 부분 기록을 읽지 않도록 임시 파일 후 rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("상태 파일 저장 실패: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("상태 파일 저장 실패: %w", err)
	}
	return nil
}

// ClearStatus는 상태 파일을 삭제합니다.
func ClearStatus(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
