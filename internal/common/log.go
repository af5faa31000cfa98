/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package common

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/apache/htrace-htraced/internal/conf"
)

type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (lvl Level) String() string {
	switch lvl {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func LevelFromString(str string) Level {
	switch str {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// A sink is a single underlying writer (stdout or a file), shared by every
// faculty that is configured to log to the same path.  Refcounted so the
// file is closed only once every logger pointed at it has closed.
type logSink struct {
	path string
	file *os.File
	refs int
}

var logSinksLock sync.Mutex
var logSinks = make(map[string]*logSink)

func acquireSink(path string) (*logSink, error) {
	logSinksLock.Lock()
	defer logSinksLock.Unlock()
	if path == "" {
		path = "<stdout>"
	}
	sink := logSinks[path]
	if sink != nil {
		sink.refs++
		return sink, nil
	}
	sink = &logSink{path: path}
	if path == "<stdout>" {
		sink.file = os.Stdout
	} else {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		sink.file = f
	}
	sink.refs = 1
	logSinks[path] = sink
	return sink, nil
}

func releaseSink(sink *logSink) {
	logSinksLock.Lock()
	defer logSinksLock.Unlock()
	sink.refs--
	if sink.refs > 0 {
		return
	}
	delete(logSinks, sink.path)
	if sink.file != os.Stdout {
		sink.file.Close()
	}
}

// A per-faculty logger.  Faculties may share an underlying sink, but each
// has its own level.
type Logger struct {
	faculty string
	sink    *logSink
	Level   Level
	lock    sync.Mutex
}

// Builds a logger for the named faculty, reading its level and path out of
// cnf.  The per-faculty config keys are, by teacher convention, asymmetric:
// the path key is "<faculty>.log.path" but the level key is
// "<faculty>log.level" (no separating dot).  Reproduced as-is.
func NewLogger(faculty string, cnf *conf.Config) *Logger {
	pathKey := faculty + "." + conf.HTRACE_LOG_PATH
	levelKey := faculty + conf.HTRACE_LOG_LEVEL
	path := cnf.Get(pathKey)
	if path == "" {
		path = cnf.Get(conf.HTRACE_LOG_PATH)
	}
	levelStr := cnf.Get(levelKey)
	if levelStr == "" {
		levelStr = cnf.Get(conf.HTRACE_LOG_LEVEL)
	}
	sink, err := acquireSink(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file %s for faculty %s: %s; "+
			"falling back to stdout.\n", path, faculty, err.Error())
		sink, _ = acquireSink("")
	}
	return &Logger{
		faculty: faculty,
		sink:    sink,
		Level:   LevelFromString(levelStr),
	}
}

func (lg *Logger) Close() {
	releaseSink(lg.sink)
}

func (lg *Logger) TraceEnabled() bool { return lg.Level <= TRACE }
func (lg *Logger) DebugEnabled() bool { return lg.Level <= DEBUG }

func (lg *Logger) write(level Level, str string) {
	if level < lg.Level {
		return
	}
	lg.lock.Lock()
	defer lg.lock.Unlock()
	fmt.Fprintf(lg.sink.file, "%s %s %s: %s", time.Now().Format(time.RFC3339Nano),
		level.String(), lg.faculty, str)
}

func (lg *Logger) Trace(str string) { lg.write(TRACE, str) }
func (lg *Logger) Debug(str string) { lg.write(DEBUG, str) }
func (lg *Logger) Info(str string)  { lg.write(INFO, str) }
func (lg *Logger) Warn(str string)  { lg.write(WARN, str) }
func (lg *Logger) Error(str string) { lg.write(ERROR, str) }

func (lg *Logger) Tracef(format string, args ...interface{}) {
	lg.write(TRACE, fmt.Sprintf(format, args...))
}
func (lg *Logger) Debugf(format string, args ...interface{}) {
	lg.write(DEBUG, fmt.Sprintf(format, args...))
}
func (lg *Logger) Infof(format string, args ...interface{}) {
	lg.write(INFO, fmt.Sprintf(format, args...))
}
func (lg *Logger) Warnf(format string, args ...interface{}) {
	lg.write(WARN, fmt.Sprintf(format, args...))
}
func (lg *Logger) Errorf(format string, args ...interface{}) {
	lg.write(ERROR, fmt.Sprintf(format, args...))
}
