package storage

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

func init() {
	logger = logrus.New()
}

// SetLogger replaces the package logger.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}
