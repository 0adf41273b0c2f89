//go:build windows || plan9

package telemetry

var openSyslog = func(string) (syslogWriter, error) {
	return nil, errSyslogUnsupported
}
