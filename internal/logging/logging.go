// Package logging provides the small leveled-logging facade the balancer
// components log through, wrapping the standard library's *log.Logger the
// way the teacher's config.SetupLogging configures output (stdout + file)
// rather than reaching for a third-party structured logger.
package logging

import "log"

// Logger is the leveled logging interface the balancer components depend
// on, letting tests substitute a silent stub.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Std adapts a *log.Logger to Logger, prefixing each line with a level tag.
type Std struct {
	*log.Logger
}

// New wraps l.
func New(l *log.Logger) *Std { return &Std{l} }

func (s *Std) Infof(format string, args ...interface{})  { s.Printf("INFO "+format, args...) }
func (s *Std) Debugf(format string, args ...interface{}) { s.Printf("DEBUG "+format, args...) }
func (s *Std) Warnf(format string, args ...interface{})  { s.Printf("WARN "+format, args...) }

// Nop discards everything; useful in tests that don't care about log
// output.
type Nop struct{}

func (Nop) Infof(string, ...interface{})  {}
func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Warnf(string, ...interface{})  {}
