package tsdconv

import "github.com/sirupsen/logrus"

var log = logrus.StandardLogger()

// SetLogger replaces the logger used for progress and warning messages.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}
