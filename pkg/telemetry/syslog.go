package telemetry

import "errors"

// syslogWriter is the subset of *syslog.Writer used by the sink.
type syslogWriter interface {
	Debug(m string) error
	Info(m string) error
	Notice(m string) error
	Warning(m string) error
	Err(m string) error
	Alert(m string) error
	Emerg(m string) error
	Crit(m string) error
	Close() error
}

// errSyslogUnsupported is returned by openSyslog where the platform has no
// syslog daemon.
var errSyslogUnsupported = errors.New("syslog is not supported on this platform")

func writeSyslog(w syslogWriter, level Level, msg string) error {
	switch level {
	case LevelDebug:
		return w.Debug(msg)
	case LevelInfo:
		return w.Info(msg)
	case LevelNotice:
		return w.Notice(msg)
	case LevelWarning:
		return w.Warning(msg)
	case LevelErr:
		return w.Err(msg)
	case LevelAlert:
		return w.Alert(msg)
	case LevelEmerg:
		return w.Emerg(msg)
	default:
		return w.Crit(msg)
	}
}
