package logging

import (
	"log/slog"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// CATALOG OPERATIONS (CATALOG*)
	CATALOG_RESOLVE LogCode = "CATALOG_RESOLVE"
	CATALOG_ACL     LogCode = "CATALOG_ACL"
	CATALOG_CONFIG  LogCode = "CATALOG_CONFIG"

	// JOB OPERATIONS (JOB*)
	JOB_SUBMIT LogCode = "JOB_SUBMIT"
	JOB_STATUS LogCode = "JOB_STATUS"
	JOB_DELETE LogCode = "JOB_DELETE"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}
