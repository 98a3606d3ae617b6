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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var (
	selectColor = color.New(color.FgGreen)
	insertColor = color.New(color.FgBlue)
	updateColor = color.New(color.FgYellow)
	deleteColor = color.New(color.FgMagenta)
	otherColor  = color.New(color.FgRed)
	tagColor    = color.New(color.FgCyan)
	errorColor  = color.New(color.BgRed)
)

// QueryHook prints executed queries colored by operation. The SQLAR_QUERY_LOG
// environment variable overrides Enabled: "0" disables, "2" also prints
// successful queries.
type QueryHook struct {
	Enabled bool
	Verbose bool
	Writer  io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns an enabled, verbose hook writing to stdout.
func NewQueryHook() *QueryHook {
	return &QueryHook{Enabled: true, Verbose: true, Writer: os.Stdout}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	enabled, verbose := h.Enabled, h.Verbose
	if env, ok := os.LookupEnv("SQLAR_QUERY_LOG"); ok {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled {
		return
	}
	if !verbose {
		switch {
		case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
			return
		}
	}

	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		tagColor.Sprintf("%10s", "[SQLAR]"),
		fmt.Sprintf("%12s", now.Sub(event.StartTime).Round(time.Microsecond)),
		" ", operationColor(event.Operation()).Sprint(event.Query),
	}
	if event.Err != nil {
		typ := reflect.TypeOf(event.Err).String()
		args = append(args, "\t", errorColor.Sprintf(" %s: %s ", typ, event.Err.Error()))
	}
	_, _ = fmt.Fprintln(h.Writer, args...)
}

func operationColor(operation string) *color.Color {
	switch operation {
	case "SELECT":
		return selectColor
	case "INSERT":
		return insertColor
	case "UPDATE":
		return updateColor
	case "DELETE":
		return deleteColor
	default:
		return otherColor
	}
}

type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.logger == nil {
		return
	}
	if duration := time.Since(event.StartTime); duration > h.slowTime {
		h.logger.Warn("Database slow query detected",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}

// QueryStats counts executed queries per operation. Tests use it to assert
// how many round trips an operation issued.
type QueryStats struct {
	mu     sync.Mutex
	byOp   map[string]int
	total  int
	errors int
}

var _ bun.QueryHook = (*QueryStats)(nil)

func NewQueryStats() *QueryStats {
	return &QueryStats{byOp: make(map[string]int)}
}

func (s *QueryStats) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (s *QueryStats) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byOp[event.Operation()]++
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		s.errors++
	}
}

// Total returns the number of queries seen since the last Reset.
func (s *QueryStats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Count returns the number of queries of one operation, e.g. "SELECT".
func (s *QueryStats) Count(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOp[operation]
}

func (s *QueryStats) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *QueryStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOp = make(map[string]int)
	s.total = 0
	s.errors = 0
}
