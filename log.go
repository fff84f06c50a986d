package elm327

import "github.com/sirupsen/logrus"

// defaultLogger is used by any AdapterController that is not given an
// explicit logger via WithLogger (elm327/ble keeps its own default
// logger). It is silent by default so
// importing this package never produces unsolicited output, matching the
// convention most libraries in the retrieval pack's BLE stack use a
// package-scoped logrus entry rather than the global logger.
var defaultLogger = func() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l.WithField("component", "elm327")
}()

// WithLogger returns a ControllerOption that routes the controller's
// diagnostic logging through entry instead of the package default.
func WithLogger(entry *logrus.Entry) ControllerOption {
	return func(o *ControllerOptions) {
		o.logger = entry
	}
}
