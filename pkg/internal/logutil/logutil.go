package logutil

import (
    "os"
    "strings"
    "sync/atomic"

    "github.com/sirupsen/logrus"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("EPOCHCTL_LOG_JSON") == "1" || os.Getenv("EPOCHCTL_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

// New returns a logrus logger honoring EPOCHCTL_LOG_LEVEL and the JSON mode.
func New() *logrus.Logger {
    l := logrus.New()
    l.SetOutput(os.Stderr)
    lvl, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("EPOCHCTL_LOG_LEVEL")))
    if err != nil { lvl = logrus.InfoLevel }
    l.SetLevel(lvl)
    applyFormat(l)
    return l
}

// SetJSON switches the format of loggers created or passed through afterwards.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

func applyFormat(l *logrus.Logger) {
    if jsonMode.Load() {
        l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
        return
    }
    l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05", QuoteEmptyFields: true})
}

func Debugf(l logrus.FieldLogger, f string, args ...any) { orDefault(l).Debugf(f, args...) }
func Infof(l logrus.FieldLogger, f string, args ...any)  { orDefault(l).Infof(f, args...) }
func Warnf(l logrus.FieldLogger, f string, args ...any)  { orDefault(l).Warnf(f, args...) }
func Errorf(l logrus.FieldLogger, f string, args ...any) { orDefault(l).Errorf(f, args...) }

// Node scopes a logger to one node address.
func Node(l logrus.FieldLogger, addr string) logrus.FieldLogger {
    return orDefault(l).WithField("node", addr)
}

func orDefault(l logrus.FieldLogger) logrus.FieldLogger {
    if l == nil {
        std := logrus.StandardLogger()
        applyFormat(std)
        return std
    }
    return l
}

// With attaches one field, tolerating a nil logger.
func With(l logrus.FieldLogger, key string, value any) logrus.FieldLogger {
    return orDefault(l).WithField(key, value)
}
