package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the host logger.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // rotating log file, empty logs to stdout only
	MaxSize    int    // MB per file
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init builds the host logger. It also becomes the output of the global
// logrus logger and of gin's default writers, so every line ends up in the
// same file.
func Init(cfg Config) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}
	logger.SetFormatter(formatter)

	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, nil, err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    orDefault(cfg.MaxSize, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAge, 14),
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}

	out := io.MultiWriter(writers...)
	logger.SetOutput(out)

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)

	gin.DefaultWriter = logger.WriterLevel(logrus.InfoLevel)
	gin.DefaultErrorWriter = logger.WriterLevel(logrus.ErrorLevel)

	return logger, closer, nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
