//go:build !windows && !plan9

package telemetry

import "log/syslog"

// openSyslog is replaced in tests.
var openSyslog = func(tag string) (syslogWriter, error) {
	return syslog.New(syslog.LOG_DAEMON|syslog.LOG_NOTICE, tag)
}
