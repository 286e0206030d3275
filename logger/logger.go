// Copyright (c) 2021 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Eclipse Public License 2.0 which is available at
// http://www.eclipse.org/legal/epl-2.0
//
// SPDX-License-Identifier: EPL-2.0

// Package logger emits leveled log lines to the console and an optional
// rotated log file, using the same line format for both sinks.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig contains logging configuration
type LogConfig struct {
	LogFile       string `json:"logFile,omitempty" env:"DC_LOG_FILE" descr:"Log file location. When empty, only the console sink is used"`
	LogLevel      string `json:"logLevel,omitempty" env:"DC_LOG_LEVEL" def:"INFO" descr:"Log levels are ERROR, WARN, INFO, DEBUG, TRACE"`
	LogFileSize   int    `json:"logFileSize,omitempty" def:"2" descr:"Log file size in MB before it gets rotated"`
	LogFileCount  int    `json:"logFileCount,omitempty" def:"5" descr:"Log file max rotations count"`
	LogFileMaxAge int    `json:"logFileMaxAge,omitempty" def:"28" descr:"Log file rotations max age in days"`
}

// LogLevel - Error(1), Warn(2), Info(3), Debug(4) or Trace(5)
type LogLevel int

// Constants for log level
const (
	ERROR LogLevel = 1 + iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = map[string]LogLevel{
	"ERROR": ERROR,
	"WARN":  WARN,
	"INFO":  INFO,
	"DEBUG": DEBUG,
	"TRACE": TRACE,
}

var levelPrefixes = map[LogLevel]string{
	ERROR: "ERROR  ",
	WARN:  "WARN   ",
	INFO:  "INFO   ",
	DEBUG: "DEBUG  ",
	TRACE: "TRACE  ",
}

const logFlags int = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lmsgprefix

var (
	logger *log.Logger
	level  LogLevel
)

// SetupLogger initializes the package logger with the provided configuration
// and component prefix. The returned writer closes the file sink, if any.
func SetupLogger(logConfig *LogConfig, componentPrefix string) (io.WriteCloser, error) {
	loggerOut := io.WriteCloser(&nopWriterCloser{out: os.Stderr})
	sink := io.Writer(os.Stderr)
	if len(logConfig.LogFile) > 0 {
		if err := os.MkdirAll(filepath.Dir(logConfig.LogFile), 0755); err != nil {
			return nil, err
		}

		loggerOut = &lumberjack.Logger{
			Filename:   logConfig.LogFile,
			MaxSize:    logConfig.LogFileSize,
			MaxBackups: logConfig.LogFileCount,
			MaxAge:     logConfig.LogFileMaxAge,
			LocalTime:  true,
			Compress:   true,
		}
		sink = io.MultiWriter(os.Stderr, loggerOut)
	}

	log.SetOutput(sink)
	log.SetFlags(logFlags)

	logger = log.New(sink, fmt.Sprintf(" %-10s", componentPrefix), logFlags)

	var ok bool
	if level, ok = levelNames[strings.ToUpper(logConfig.LogLevel)]; !ok {
		level = ERROR
	}

	return loggerOut, nil
}

func logValue(l LogLevel, v interface{}) {
	if level >= l {
		logger.Println(levelPrefixes[l], v)
	}
}

func logFormat(l LogLevel, format string, v ...interface{}) {
	if level >= l {
		logger.Printf(fmt.Sprint(levelPrefixes[l], " ", format), v...)
	}
}

// Error logs the given value, if level is >= ERROR
func Error(v interface{}) {
	logValue(ERROR, v)
}

// Errorf logs the given formatted message, if level is >= ERROR
func Errorf(format string, v ...interface{}) {
	logFormat(ERROR, format, v...)
}

// Warn logs the given value, if level is >= WARN
func Warn(v interface{}) {
	logValue(WARN, v)
}

// Warnf logs the given formatted message, if level is >= WARN
func Warnf(format string, v ...interface{}) {
	logFormat(WARN, format, v...)
}

// Info logs the given value, if level is >= INFO
func Info(v interface{}) {
	logValue(INFO, v)
}

// Infof logs the given formatted message, if level is >= INFO
func Infof(format string, v ...interface{}) {
	logFormat(INFO, format, v...)
}

// Debug logs the given value, if level is >= DEBUG
func Debug(v interface{}) {
	logValue(DEBUG, v)
}

// Debugf logs the given formatted message, if level is >= DEBUG
func Debugf(format string, v ...interface{}) {
	logFormat(DEBUG, format, v...)
}

// Trace logs the given values, if level is >= TRACE
func Trace(v ...interface{}) {
	logValue(TRACE, fmt.Sprint(v...))
}

// Tracef logs the given formatted message, if level is >= TRACE
func Tracef(format string, v ...interface{}) {
	logFormat(TRACE, format, v...)
}

// IsDebugEnabled returns true if log level is DEBUG or TRACE
func IsDebugEnabled() bool {
	return level >= DEBUG
}

// IsTraceEnabled returns true if log level is TRACE
func IsTraceEnabled() bool {
	return level >= TRACE
}

type nopWriterCloser struct {
	out io.Writer
}

// Write to log output
func (w *nopWriterCloser) Write(p []byte) (n int, err error) {
	return w.out.Write(p)
}

// Close does nothing
func (*nopWriterCloser) Close() error {
	return nil
}
