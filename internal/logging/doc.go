// Package logging provides leveled, printf-style logging for the media
// extractor service.
//
// Levels are DEBUG, INFO, WARN and ERROR, plus FATAL which exits the
// process. The level is read once from LOG_LEVEL (or DEBUG=true) and can
// be overridden with SetLevel.
//
// Long-lived components log through a named Logger so their lines can be
// told apart:
//
//	log := logging.Named("worker-1")
//	log.Info("picked up job %s", jobID)
//	// [INFO] [worker-1] picked up job 3f1c...
package logging
