// Package log carries logging glue: process logger construction and the
// adapter BadgerDB needs to speak logrus.
package log

import "github.com/sirupsen/logrus"

// BadgerAdapter bridges badger.Logger onto a logrus entry so database
// internals land in the same stream, with the same fields, as everything
// else.
type BadgerAdapter struct {
	*logrus.Entry
}

// NewBadgerAdapter wraps entry for use as a badger.Logger.
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry}
}

// Errorf logs at error level.
func (l *BadgerAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(f, v...) }

// Warningf logs at warning level.
func (l *BadgerAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }

// Infof logs at debug level. Badger is chatty at info; its routine output
// is noise next to crawl progress, so it gets demoted.
func (l *BadgerAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

// Debugf logs at debug level.
func (l *BadgerAdapter) Debugf(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }
