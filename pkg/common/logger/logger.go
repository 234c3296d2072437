package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init; Init applies the service format and level.
var Log = logrus.New()

// Options describe the process writing the log. Service and PlantZone are
// stamped on every entry so lines from several plants can share one sink.
type Options struct {
	Service   string
	PlantZone string
	Level     string
	Format    string // "json" (default) or "text"
	Output    io.Writer
}

func Init(opts Options) {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	switch strings.ToLower(opts.Format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	base := logrus.Fields{}
	if opts.Service != "" {
		base["service"] = opts.Service
	}
	if opts.PlantZone != "" {
		base["plant_zone"] = opts.PlantZone
	}
	if len(base) > 0 {
		l.AddHook(serviceHook{fields: base})
	}
	Log = l
}

// serviceHook adds the process fields without overriding a caller's value.
type serviceHook struct {
	fields logrus.Fields
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return Log.WithError(err)
}

// WithBatch scopes an entry to one production batch.
func WithBatch(batchID string) *logrus.Entry {
	return Log.WithField("batch_id", batchID)
}
