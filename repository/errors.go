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
	"errors"
	"fmt"

	"github.com/tomoncle/sqlar/mapping"
)

var (
	ErrNotFetched    = errors.New("entity must be fetched with the repository before saving or deleting")
	ErrKeyModified   = errors.New("primary key of a tracked entity was modified")
	ErrStaleEntity   = errors.New("row of a tracked entity no longer exists")
	ErrSessionClosed = errors.New("session is closed")

	ErrKeyArity = mapping.ErrKeyArity
	ErrKeyType  = mapping.ErrKeyType
)

// RepositoryError reports a misuse of the repository, such as saving an
// entity that was never fetched through it. Callers can recover by fetching
// the entity and retrying.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return &RepositoryError{Op: op, Err: err}
}
