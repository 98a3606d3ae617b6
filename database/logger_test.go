/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLogLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("verbose"))
	assert.Equal(t, "WARN", LogLevelWarn.String())
}

func TestDefaultLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	logger := NewDefaultLogger(l)
	logger.SetLevel(LogLevelInfo)
	logger.Debug("hidden", "k", 1)
	assert.Empty(t, buf.String())

	logger.Warn("flush failed", "session", 7, "kind", DuplicateKeyErr, "dangling")
	out := buf.String()
	assert.Contains(t, out, "flush failed")
	assert.Contains(t, out, "session=7")
	assert.Contains(t, out, "kind=duplicate_key")
}

func TestGlobalLogger(t *testing.T) {
	prev := GetLogger()
	t.Cleanup(func() { SetLogger(prev) })

	SetLogger(NopLogger{})
	assert.Equal(t, NopLogger{}, GetLogger())

	InitLogger(NewDefaultLogger(logrus.New()))
	assert.Equal(t, NopLogger{}, GetLogger(), "InitLogger keeps an installed logger")
}
