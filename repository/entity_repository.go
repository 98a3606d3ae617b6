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

	"github.com/tomoncle/sqlar/database"
	"github.com/tomoncle/sqlar/mapping"
	"github.com/uptrace/bun"
)

// maxBatchParams bounds the bind parameters of one FindAllByID query; SQLite
// builds without SQLITE_MAX_VARIABLE_NUMBER raised cap at 999.
const maxBatchParams = 900

var _ Repository[struct{ bun.BaseModel }, int64] = (*EntityRepository[struct{ bun.BaseModel }, int64])(nil)

// Option configures an EntityRepository.
type Option func(*options)

type options struct {
	factory SessionFactory
	shared  bool
	logger  database.Logger
}

// WithSessionFactory replaces the default factory bound to the repository's
// execution handle.
func WithSessionFactory(f SessionFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithSharedSession makes every loaded entity share one session owned by the
// repository instead of opening a session per entity. Save then flushes all
// pending changes of the repository.
func WithSharedSession() Option {
	return func(o *options) { o.shared = true }
}

// WithConfig applies repository settings from configuration.
func WithConfig(cfg database.RepositoryConfig) Option {
	return func(o *options) { o.shared = cfg.SharedSession }
}

// WithLogger replaces the global database logger for this repository.
func WithLogger(logger database.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// EntityRepository implements Repository for entity type T stored in a single
// table, with keys of type K.
type EntityRepository[T any, K any] struct {
	db       bun.IDB
	desc     *mapping.TableDescriptor
	factory  SessionFactory
	shared   bool
	session  *Session
	logger   database.Logger
	identity *identityMap[T]
}

// New builds a repository for T on db. It fails with a *mapping.MappingError
// when T does not map to exactly one table.
func New[T any, K any](db bun.IDB, opts ...Option) (*EntityRepository[T, K], error) {
	desc, err := mapping.Describe[T](db)
	if err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = database.GetLogger()
	}
	if o.factory == nil {
		o.factory = NewSessionFactory(db, desc)
	}
	return &EntityRepository[T, K]{
		db:       db,
		desc:     desc,
		factory:  o.factory,
		shared:   o.shared,
		logger:   o.logger,
		identity: newIdentityMap[T](),
	}, nil
}

// MustNew is like New but panics on a mapping error.
func MustNew[T any, K any](db bun.IDB, opts ...Option) *EntityRepository[T, K] {
	r, err := New[T, K](db, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Descriptor returns the table descriptor derived from T.
func (r *EntityRepository[T, K]) Descriptor() *mapping.TableDescriptor { return r.desc }

// Tracked returns the number of entities in the identity map.
func (r *EntityRepository[T, K]) Tracked() int { return r.identity.len() }

// IsTracked reports whether entity was loaded through the repository and is
// still registered.
func (r *EntityRepository[T, K]) IsTracked(entity *T) bool {
	_, ok := r.identity.lookup(entity)
	return ok
}

func (r *EntityRepository[T, K]) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*T)(nil)).Count(ctx)
}

func (r *EntityRepository[T, K]) FindByID(ctx context.Context, id K) (*T, error) {
	key, err := r.normalize("find", id)
	if err != nil {
		return nil, err
	}
	if e, ok := r.identity.get(key); ok {
		return e, nil
	}

	session := r.openSession()
	entity := new(T)
	found, err := session.Get(ctx, entity, key)
	if err != nil || !found {
		r.releaseSession(session, entity)
		return nil, err
	}
	return r.adopt(entity, session)
}

func (r *EntityRepository[T, K]) FindAll(ctx context.Context) ([]*T, error) {
	var rows []*T
	q := r.db.NewSelect().Model(&rows)
	for _, pk := range r.desc.PrimaryKeys {
		q = q.OrderExpr("?TableAlias.? ASC", bun.Ident(pk))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return r.adoptAll(rows)
}

func (r *EntityRepository[T, K]) FindAllByID(ctx context.Context, ids []K) ([]*T, error) {
	keys := make([]mapping.Key, 0, len(ids))
	var missing []mapping.Key
	pending := make(map[string]struct{})
	for _, id := range ids {
		key, err := r.normalize("find", id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		if _, ok := r.identity.get(key); ok {
			continue
		}
		if _, ok := pending[key.ID()]; ok {
			continue
		}
		pending[key.ID()] = struct{}{}
		missing = append(missing, key)
	}

	batch := maxBatchParams / len(r.desc.PrimaryKeys)
	for start := 0; start < len(missing); start += batch {
		end := min(start+batch, len(missing))
		rows, err := r.selectByKeys(ctx, missing[start:end])
		if err != nil {
			return nil, err
		}
		if _, err := r.adoptAll(rows); err != nil {
			return nil, err
		}
	}

	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		if e, ok := r.identity.get(key); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *EntityRepository[T, K]) selectByKeys(ctx context.Context, keys []mapping.Key) ([]*T, error) {
	var rows []*T
	q := r.db.NewSelect().Model(&rows)
	if !r.desc.IsComposite() {
		values := make([]any, len(keys))
		for i, key := range keys {
			values[i] = key.Values()[0]
		}
		q = q.Where("?TableAlias.? IN (?)", bun.Ident(r.desc.PrimaryKeys[0]), bun.In(values))
	} else {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			for _, key := range keys {
				values := key.Values()
				q = q.WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					for i, pk := range r.desc.PrimaryKeys {
						q = q.Where("?TableAlias.? = ?", bun.Ident(pk), values[i])
					}
					return q
				})
			}
			return q
		})
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EntityRepository[T, K]) ExistsByID(ctx context.Context, id K) (bool, error) {
	key, err := r.normalize("exists", id)
	if err != nil {
		return false, err
	}
	if _, ok := r.identity.get(key); ok {
		return true, nil
	}
	probe := new(T)
	if err := r.desc.SetKey(probe, key); err != nil {
		return false, err
	}
	return r.db.NewSelect().Model(probe).WherePK().Exists(ctx)
}

func (r *EntityRepository[T, K]) Save(ctx context.Context, entity *T) (*T, error) {
	reg, err := r.registered("save", entity)
	if err != nil {
		return nil, err
	}
	if err := reg.session.Flush(ctx); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *EntityRepository[T, K]) SaveMany(ctx context.Context, entities []*T) ([]*T, error) {
	out := make([]*T, 0, len(entities))
	for _, e := range entities {
		saved, err := r.Save(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}

func (r *EntityRepository[T, K]) Delete(ctx context.Context, entity *T) error {
	reg, err := r.registered("delete", entity)
	if err != nil {
		return err
	}
	if err := reg.session.Delete(entity); err != nil {
		return opError("delete", err)
	}
	if err := reg.session.Flush(ctx); err != nil {
		reg.session.cancelDelete(entity)
		return err
	}
	r.identity.remove(entity)
	if !r.shared {
		reg.session.Close()
	}
	r.logger.Debug("Entity deleted", "table", r.desc.Name, "key", reg.key.String())
	return nil
}

func (r *EntityRepository[T, K]) DeleteMany(ctx context.Context, entities []*T) error {
	for _, e := range entities {
		if err := r.Delete(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *EntityRepository[T, K]) DeleteAll(ctx context.Context) error {
	if _, err := r.db.NewDelete().Model((*T)(nil)).Where("1 = 1").Exec(ctx); err != nil {
		return err
	}
	dropped := r.identity.len()
	r.Close()
	r.logger.Debug("Table cleared", "table", r.desc.Name, "dropped", dropped)
	return nil
}

func (r *EntityRepository[T, K]) DeleteByID(ctx context.Context, id K) error {
	key, err := r.normalize("delete", id)
	if err != nil {
		return err
	}
	if e, ok := r.identity.get(key); ok {
		return r.Delete(ctx, e)
	}
	probe := new(T)
	if err := r.desc.SetKey(probe, key); err != nil {
		return err
	}
	_, err = r.db.NewDelete().Model(probe).WherePK().Exec(ctx)
	return err
}

// Detach forgets entity without touching the database. Later lookups of its
// key load a fresh instance.
func (r *EntityRepository[T, K]) Detach(entity *T) {
	reg, ok := r.identity.remove(entity)
	if !ok {
		return
	}
	reg.session.Expunge(entity)
	if !r.shared {
		reg.session.Close()
	}
}

// Close closes every session and empties the identity map. Entities held by
// callers become detached.
func (r *EntityRepository[T, K]) Close() {
	for _, s := range r.identity.sessions() {
		s.Close()
	}
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
	r.identity.reset()
}

func (r *EntityRepository[T, K]) normalize(op string, id K) (mapping.Key, error) {
	key, err := r.desc.NormalizeKey(id)
	if err != nil {
		return mapping.Key{}, opError(op, err)
	}
	return key, nil
}

func (r *EntityRepository[T, K]) registered(op string, entity *T) (registration, error) {
	reg, ok := r.identity.lookup(entity)
	if !ok {
		return registration{}, opError(op, ErrNotFetched)
	}
	current, err := r.desc.KeyOf(entity)
	if err != nil || current.ID() != reg.key.ID() {
		return registration{}, opError(op, ErrKeyModified)
	}
	return reg, nil
}

func (r *EntityRepository[T, K]) openSession() *Session {
	if !r.shared {
		return r.factory.NewSession()
	}
	if r.session == nil || r.session.Closed() {
		r.session = r.factory.NewSession()
	}
	return r.session
}

func (r *EntityRepository[T, K]) releaseSession(session *Session, entity *T) {
	if r.shared {
		session.Expunge(entity)
		return
	}
	session.Close()
}

// adopt registers a freshly loaded entity. If the row's key is already
// mapped, the cached instance wins and the new one is discarded.
func (r *EntityRepository[T, K]) adopt(entity *T, session *Session) (*T, error) {
	key, err := r.desc.KeyOf(entity)
	if err != nil {
		r.releaseSession(session, entity)
		return nil, err
	}
	if cached, ok := r.identity.get(key); ok {
		r.releaseSession(session, entity)
		return cached, nil
	}
	r.identity.add(key, entity, session)
	r.logger.Debug("Entity loaded", "table", r.desc.Name, "key", key.String(), "session", session.ID())
	return entity, nil
}

func (r *EntityRepository[T, K]) adoptAll(rows []*T) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		key, err := r.desc.KeyOf(row)
		if err != nil {
			return nil, err
		}
		if cached, ok := r.identity.get(key); ok {
			out = append(out, cached)
			continue
		}
		session := r.openSession()
		if err := session.Track(row); err != nil {
			r.releaseSession(session, row)
			return nil, err
		}
		r.identity.add(key, row, session)
		out = append(out, row)
	}
	return out, nil
}
