// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

// FilterOption is a Filter option.
type FilterOption func(*Filter)

// FilterLevel drops records below the given level.
func FilterLevel(level Level) FilterOption {
	return func(f *Filter) {
		f.level = level
	}
}

// Filter is a Logger decorator that drops records below a level.
type Filter struct {
	logger Logger
	level  Level
}

// NewFilter wraps logger with the given options.
func NewFilter(logger Logger, opts ...FilterOption) *Filter {
	f := &Filter{logger: logger}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Log implements Logger.
func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}
