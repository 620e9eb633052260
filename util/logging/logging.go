// Copyright (c) 2021 PaddlePaddle Authors. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/PaddlePaddle/PaddleDTX/xdb/errorx"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"

	"github.com/cyjseagull/WeDPR-Component/config"
)

// Logging maintains the state associated with the node logging system
type Logging struct {
	// Format is the log record format specifier, nil keeps the logrus default
	Format *logrus.TextFormatter

	// logrus log level, default info
	Level logrus.Level

	// Writer is the sink for encoded and formatted log records.
	Writer io.Writer

	// FilePath is the link that always points to the latest log file,
	// the job log retriever reads from it
	FilePath string
}

const (
	TimeFormat   = "2006-01-02 15:04:05"
	DefaultLevel = logrus.InfoLevel
)

// InitLog initiates Logging instance.
func InitLog(conf *config.Log, fileName string, isSetFormat bool) (*Logging, error) {
	logging := &Logging{}
	logPath, level, err := logging.checkLogConf(conf)
	if err != nil {
		return nil, errorx.Wrap(err, "check log conf error")
	}
	logging.Level = level
	logging.FilePath = filepath.Join(logPath, fileName)

	writer, err := logging.writer(logging.FilePath)
	if err != nil {
		return nil, errorx.Wrap(err, "get log writer error")
	}
	logging.Writer = writer

	if isSetFormat {
		logging.Format = &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: TimeFormat,
		}
	}
	return logging, nil
}

// Apply points the standard logrus logger at the rotating writer
func (l *Logging) Apply() {
	logrus.SetOutput(l.Writer)
	logrus.SetLevel(l.Level)
	if l.Format != nil {
		logrus.SetFormatter(l.Format)
	}
}

func (l *Logging) writer(logFileName string) (io.Writer, error) {
	// soft link to the latest file, keep 30 days, rotate hourly
	logStd, err := rotatelogs.New(
		logFileName+".%Y%m%d%H",
		rotatelogs.WithLinkName(logFileName),
		rotatelogs.WithMaxAge(720*time.Hour),
		rotatelogs.WithRotationTime(time.Hour),
	)
	if err != nil {
		return nil, errorx.NewCode(err, errorx.ErrCodeInternal, "new rotatelogs error")
	}
	return logStd, nil
}

// checkLogConf verifies the log configuration. If the level name is
// empty or unknown, default level is info
func (l *Logging) checkLogConf(conf *config.Log) (string, logrus.Level, error) {
	if conf == nil || len(conf.Path) == 0 {
		return "", 0, errorx.New(errorx.ErrCodeConfig, "missing config: log.path")
	}
	path := filepath.Clean(conf.Path)

	// create if the log file directory does not exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0777); err != nil {
			return "", 0, errorx.New(errorx.ErrCodeConfig, "mkdir logs error, err :%v", err)
		}
	}
	level, err := logrus.ParseLevel(conf.Level)
	if err != nil {
		level = DefaultLevel
	}

	return path, level, nil
}
