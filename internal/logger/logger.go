package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel は文字列からログレベルを得る
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// memberField はメンバーIDを載せるフィールド名
const memberField = "member"

// Logger はスレッドセーフなロガー（logrus をラップ）
type Logger struct {
	base *logrus.Logger
}

// Default はデフォルトのロガー（標準エラーに出力する）
var Default = New(os.Stderr, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(minLevel.logrus())
	base.SetFormatter(&bracketFormatter{})
	return &Logger{base: base}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.base.SetLevel(level.logrus())
}

// SetFormat は出力形式を切り替える（text または json）
func (l *Logger) SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		l.base.SetFormatter(&bracketFormatter{})
	case "json":
		l.base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampLayout})
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}
	return nil
}

// SetOutput は出力先を差し替える
func (l *Logger) SetOutput(out io.Writer) {
	l.base.SetOutput(out)
}

func (l *Logger) entry(memberID string) *logrus.Entry {
	if memberID == "" {
		return logrus.NewEntry(l.base)
	}
	return l.base.WithField(memberField, memberID)
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(memberID string, format string, args ...any) {
	l.entry(memberID).Debugf(format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(memberID string, format string, args ...any) {
	l.entry(memberID).Infof(format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(memberID string, format string, args ...any) {
	l.entry(memberID).Warnf(format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(memberID string, format string, args ...any) {
	l.entry(memberID).Errorf(format, args...)
}

const timestampLayout = "2006-01-02 15:04:05.000"

// bracketFormatter は "[時刻] [LEVEL] [member] message" 形式で出力する
type bracketFormatter struct{}

func (f *bracketFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] [%s]", e.Time.Format(timestampLayout), levelName(e.Level))
	if member, ok := e.Data[memberField].(string); ok && member != "" {
		fmt.Fprintf(&b, " [%s]", member)
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug.String()
	case logrus.InfoLevel:
		return LevelInfo.String()
	case logrus.WarnLevel:
		return LevelWarn.String()
	default:
		return LevelError.String()
	}
}

// Configure はデフォルトロガーのレベルと形式を設定する
func Configure(level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	Default.SetLevel(lvl)
	return Default.SetFormat(format)
}

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(memberID string, format string, args ...any) {
	Default.Debug(memberID, format, args...)
}

// Info は情報ログを出力する
func Info(memberID string, format string, args ...any) {
	Default.Info(memberID, format, args...)
}

// Warn は警告ログを出力する
func Warn(memberID string, format string, args ...any) {
	Default.Warn(memberID, format, args...)
}

// Error はエラーログを出力する
func Error(memberID string, format string, args ...any) {
	Default.Error(memberID, format, args...)
}
