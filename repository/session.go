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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sync/atomic"

	"github.com/tomoncle/sqlar/database"
	"github.com/tomoncle/sqlar/mapping"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

var sessionSeq atomic.Uint64

// SessionFactory opens sessions bound to an execution handle.
type SessionFactory interface {
	NewSession() *Session
}

type sessionFactory struct {
	db     bun.IDB
	descs  map[reflect.Type]*mapping.TableDescriptor
	logger database.Logger
}

// NewSessionFactory returns a factory whose sessions run on db. The given
// descriptors are shared with every session so they are not derived again.
func NewSessionFactory(db bun.IDB, descs ...*mapping.TableDescriptor) SessionFactory {
	f := &sessionFactory{
		db:     db,
		descs:  make(map[reflect.Type]*mapping.TableDescriptor, len(descs)),
		logger: database.GetLogger(),
	}
	for _, d := range descs {
		f.descs[d.Type()] = d
	}
	return f
}

func (f *sessionFactory) NewSession() *Session {
	descs := make(map[reflect.Type]*mapping.TableDescriptor, len(f.descs))
	for k, v := range f.descs {
		descs[k] = v
	}
	return &Session{
		id:      sessionSeq.Add(1),
		db:      f.db,
		descs:   descs,
		logger:  f.logger,
		tracked: make(map[any]*trackedEntity),
	}
}

type trackedEntity struct {
	model    any
	desc     *mapping.TableDescriptor
	snapshot []any
	deleted  bool
}

// Session is a unit of work. It remembers the column values of every entity
// it loaded, collects pending deletes, and writes both in one transaction on
// Flush. Only changed columns are updated.
type Session struct {
	id      uint64
	db      bun.IDB
	descs   map[reflect.Type]*mapping.TableDescriptor
	logger  database.Logger
	tracked map[any]*trackedEntity
	order   []*trackedEntity
	closed  bool
}

// ID identifies the session in logs.
func (s *Session) ID() uint64 { return s.id }

// Len returns the number of entities tracked by the session.
func (s *Session) Len() int { return len(s.tracked) }

// Contains reports whether model is tracked by the session.
func (s *Session) Contains(model any) bool {
	_, ok := s.tracked[model]
	return ok
}

// Get loads the row identified by key into model, which must be a pointer to
// a zeroed entity. It reports false without error when no row matches.
func (s *Session) Get(ctx context.Context, model any, key mapping.Key) (bool, error) {
	if s.closed {
		return false, ErrSessionClosed
	}
	desc, err := s.describe(model)
	if err != nil {
		return false, err
	}
	if err := desc.SetKey(model, key); err != nil {
		return false, err
	}
	err = s.db.NewSelect().Model(model).WherePK().Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.track(model, desc)
	return true, nil
}

// Track adds an entity that was loaded outside the session, e.g. by a bulk
// select, and snapshots its current column values.
func (s *Session) Track(model any) error {
	if s.closed {
		return ErrSessionClosed
	}
	desc, err := s.describe(model)
	if err != nil {
		return err
	}
	s.track(model, desc)
	return nil
}

func (s *Session) track(model any, desc *mapping.TableDescriptor) {
	if te, ok := s.tracked[model]; ok {
		te.snapshot = desc.Snapshot(model)
		te.deleted = false
		return
	}
	te := &trackedEntity{model: model, desc: desc, snapshot: desc.Snapshot(model)}
	s.tracked[model] = te
	s.order = append(s.order, te)
}

// Delete marks a tracked entity for deletion on the next Flush.
func (s *Session) Delete(model any) error {
	if s.closed {
		return ErrSessionClosed
	}
	te, ok := s.tracked[model]
	if !ok {
		return ErrNotFetched
	}
	te.deleted = true
	return nil
}

func (s *Session) cancelDelete(model any) {
	if te, ok := s.tracked[model]; ok {
		te.deleted = false
	}
}

// Expunge stops tracking model without touching the database.
func (s *Session) Expunge(model any) {
	te, ok := s.tracked[model]
	if !ok {
		return
	}
	delete(s.tracked, model)
	for i, o := range s.order {
		if o == te {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Dirty returns the tracked entities that have pending deletes or changed
// columns.
func (s *Session) Dirty() []any {
	var out []any
	for _, te := range s.order {
		if te.deleted || len(te.desc.Changed(te.model, te.snapshot)) > 0 {
			out = append(out, te.model)
		}
	}
	return out
}

// Flush writes pending deletes and updates in a single transaction. Nothing
// is executed when the session is clean. On failure the session state is left
// as it was before the call.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	type update struct {
		te      *trackedEntity
		columns []string
	}
	var (
		deletes []*trackedEntity
		updates []update
	)
	for _, te := range s.order {
		if te.deleted {
			deletes = append(deletes, te)
			continue
		}
		if cols := te.desc.Changed(te.model, te.snapshot); len(cols) > 0 {
			updates = append(updates, update{te: te, columns: cols})
		}
	}
	if len(deletes) == 0 && len(updates) == 0 {
		return nil
	}

	checkRows := s.db.Dialect().Name() != dialect.MySQL
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, te := range deletes {
			if _, err := tx.NewDelete().Model(te.model).WherePK().Exec(ctx); err != nil {
				return err
			}
		}
		for _, u := range updates {
			res, err := tx.NewUpdate().Model(u.te.model).Column(u.columns...).WherePK().Exec(ctx)
			if err != nil {
				return err
			}
			if checkRows {
				if n, err := res.RowsAffected(); err == nil && n == 0 {
					return ErrStaleEntity
				}
			}
		}
		return nil
	})
	if err != nil {
		if ok, kind := database.IsSqlError(err); ok {
			s.logger.Warn("Session flush failed", "session", s.id, "kind", kind, "error", err)
		}
		return err
	}

	for _, te := range deletes {
		s.Expunge(te.model)
	}
	for _, u := range updates {
		u.te.snapshot = u.te.desc.Snapshot(u.te.model)
	}
	s.logger.Debug("Session flushed", "session", s.id, "deleted", len(deletes), "updated", len(updates))
	return nil
}

// Close releases the session. Tracked entities are forgotten; pending
// changes that were not flushed are discarded.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.tracked = nil
	s.order = nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed }

func (s *Session) describe(model any) (*mapping.TableDescriptor, error) {
	typ := reflect.TypeOf(model)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, &mapping.MappingError{Type: typ, Reason: mapping.ErrNotStruct}
	}
	typ = typ.Elem()
	if desc, ok := s.descs[typ]; ok {
		return desc, nil
	}
	desc, err := mapping.DescribeType(s.db, typ)
	if err != nil {
		return nil, err
	}
	s.descs[typ] = desc
	return desc, nil
}
