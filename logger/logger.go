package logger

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log  *logrus.Logger
	once sync.Once
)

// Init configures the process logger. When dir is non-empty, output goes to
// a rotated file under dir as well as stderr. Level is a logrus level name;
// unknown names fall back to info. Safe to call once from main.
func Init(dir, level string, maxSizeMB, maxBackups int) *logrus.Logger {
	once.Do(func() {
		log = logrus.New()
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})

		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		log.SetLevel(lvl)

		if dir != "" {
			if err := os.MkdirAll(dir, 0o755); err == nil {
				rotated := &lumberjack.Logger{
					Filename:   filepath.Join(dir, "datachat.log"),
					MaxSize:    maxSizeMB,
					MaxBackups: maxBackups,
					Compress:   true,
				}
				log.SetOutput(io.MultiWriter(os.Stderr, rotated))
			}
		}
	})
	return log
}

// L returns the process logger, initializing a stderr-only logger if Init
// has not run (tests).
func L() *logrus.Logger {
	if log == nil {
		return Init("", "info", 0, 0)
	}
	return log
}

// With returns an entry tagged with the originating component.
func With(component string) *logrus.Entry {
	return L().WithField("component", component)
}

// Patterns that may carry key material into an error string: bearer headers,
// provider keys, and DSN password segments.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`(?i)(x-api-key:\s*)\S+`),
	regexp.MustCompile(`(sk-)[A-Za-z0-9-_]{8,}`),
	regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+(@)`),
	regexp.MustCompile(`(?i)(password=)[^;&\s]+`),
}

// Redact masks token and password material in s so upstream error text can
// be logged without leaking secrets.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "${1}[redacted]${2}")
	}
	return s
}
