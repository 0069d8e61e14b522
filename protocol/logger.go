package protocol

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

func init() {
	logger = logrus.New()
}

// SetLogger replaces the logger used for frame traces.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}
