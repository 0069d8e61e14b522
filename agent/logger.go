package agent

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

func init() {
	logger = logrus.New()
}

// SetLogger replaces the logger of the agent.
func SetLogger(loggerInstance *logrus.Logger) {
	logger = loggerInstance
}
