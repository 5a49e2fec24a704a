// Package logger는 구조화된 로깅을 제공합니다.
// 기본 출력은 JSON이며, 모든 출력은 민감 정보 마스킹을 거칩니다.
package logger

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/clawnode/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// 민감 정보 패턴
var sensitivePatterns = []*regexp.Regexp{
	// JWT 토큰 패턴 (eyJ로 시작하는 Base64)
	regexp.MustCompile(`(eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+)`),
	// Bearer 토큰
	regexp.MustCompile(`(Bearer\s+[a-zA-Z0-9\-_\.]+)`),
	// 키-값 패턴 (컨트롤러 URL 쿼리의 token= 포함)
	regexp.MustCompile(`((?:api[_-]?key|apikey|key|token|secret|password)\s*[=:]\s*)([a-zA-Z0-9\-_\.]{10,})`),
}

var kvSeparator = regexp.MustCompile(`[=:]`)

// maskedWriter는 민감 정보를 마스킹하는 io.Writer입니다.
type maskedWriter struct {
	underlying io.Writer
}

// Write는 민감 정보를 마스킹한 후 기록합니다.
func (w *maskedWriter) Write(p []byte) (n int, err error) {
	masked := MaskSensitive(string(p))
	if _, err := w.underlying.Write([]byte(masked)); err != nil {
		return 0, err
	}
	// 마스킹으로 길이가 달라져도 원본 길이를 반환합니다.
	return len(p), nil
}

// Setup은 전역 로거를 초기화합니다.
func Setup(cfg config.LoggingConfig) {
	var output io.Writer = os.Stdout
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			// 파일 열기 실패 시 stdout 사용
			log.Warn().Err(err).Str("file", cfg.File).Msg("로그 파일을 열 수 없어 stdout을 사용합니다")
		} else {
			output = file
		}
	}

	log.Logger = New(cfg, output)
}

// New는 cfg에 맞춰 output으로 기록하는 로거를 생성하고 전역 레벨을 설정합니다.
func New(cfg config.LoggingConfig, output io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	maskedOutput := &maskedWriter{underlying: output}

	if cfg.Format == "text" {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        maskedOutput,
			TimeFormat: time.RFC3339,
		}
		return zerolog.New(consoleWriter).With().Timestamp().Logger()
	}
	return zerolog.New(maskedOutput).With().Timestamp().Logger()
}

// parseLevel은 문자열 레벨을 zerolog.Level로 변환합니다.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// MaskSensitive는 문자열에서 민감 정보를 마스킹합니다.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Bearer 토큰 처리
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer " + maskValue(strings.TrimPrefix(match, "Bearer "))
			}
			// 키-값 패턴 처리 (token=xxx 형태)
			if loc := kvSeparator.FindStringIndex(match); loc != nil {
				prefix := match[:loc[1]]
				rest := match[loc[1]:]
				trimmed := strings.TrimLeft(rest, " \t")
				return prefix + rest[:len(rest)-len(trimmed)] + maskValue(trimmed)
			}
			// 일반 토큰 마스킹
			return maskValue(match)
		})
	}
	return result
}

// maskValue는 값을 마스킹합니다.
// 앞 4자와 뒤 4자만 남기고 나머지는 ***로 대체합니다.
func maskValue(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// Debug는 디버그 레벨 로그를 기록합니다.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info는 정보 레벨 로그를 기록합니다.
func Info() *zerolog.Event {
	return log.Info()
}

// Warn은 경고 레벨 로그를 기록합니다.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error는 오류 레벨 로그를 기록합니다.
func Error() *zerolog.Event {
	return log.Error()
}

// WithContext는 컨텍스트 필드를 추가한 새 로거를 반환합니다.
func WithContext(ctx map[string]interface{}) zerolog.Logger {
	l := log.With()
	for k, v := range ctx {
		l = l.Interface(k, v)
	}
	return l.Logger()
}

// WithNodeID는 노드 ID를 컨텍스트에 추가한 로거를 반환합니다.
func WithNodeID(nodeID string) zerolog.Logger {
	return log.With().Str("node_id", nodeID).Logger()
}

// WithComponent는 컴포넌트 이름을 컨텍스트에 추가한 로거를 반환합니다.
func WithComponent(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
