package rosbridge

import "github.com/sirupsen/logrus"

var log = logrus.StandardLogger()

// SetLogger replaces the logger of the package.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}
