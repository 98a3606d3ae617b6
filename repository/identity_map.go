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
	"github.com/tomoncle/sqlar/mapping"
)

type registration struct {
	key     mapping.Key
	session *Session
}

// identityMap pairs the key -> instance map with the instance -> session
// registry. Both sides are only ever changed together.
type identityMap[T any] struct {
	byKey    map[string]*T
	byEntity map[*T]registration
}

func newIdentityMap[T any]() *identityMap[T] {
	return &identityMap[T]{
		byKey:    make(map[string]*T),
		byEntity: make(map[*T]registration),
	}
}

func (m *identityMap[T]) get(key mapping.Key) (*T, bool) {
	e, ok := m.byKey[key.ID()]
	return e, ok
}

func (m *identityMap[T]) lookup(entity *T) (registration, bool) {
	reg, ok := m.byEntity[entity]
	return reg, ok
}

func (m *identityMap[T]) add(key mapping.Key, entity *T, session *Session) {
	m.byKey[key.ID()] = entity
	m.byEntity[entity] = registration{key: key, session: session}
}

func (m *identityMap[T]) remove(entity *T) (registration, bool) {
	reg, ok := m.byEntity[entity]
	if !ok {
		return registration{}, false
	}
	delete(m.byKey, reg.key.ID())
	delete(m.byEntity, entity)
	return reg, true
}

func (m *identityMap[T]) len() int { return len(m.byKey) }

// sessions returns every distinct session referenced by the registry.
func (m *identityMap[T]) sessions() []*Session {
	seen := make(map[*Session]struct{})
	var out []*Session
	for _, reg := range m.byEntity {
		if _, ok := seen[reg.session]; ok {
			continue
		}
		seen[reg.session] = struct{}{}
		out = append(out, reg.session)
	}
	return out
}

func (m *identityMap[T]) reset() {
	m.byKey = make(map[string]*T)
	m.byEntity = make(map[*T]registration)
}
