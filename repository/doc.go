// Package repository provides identity-mapped CRUD repositories built on Bun.
//
// An EntityRepository keeps at most one live instance per primary key and
// remembers the Session each instance was loaded through, so that Save and
// Delete can flush exactly the unit of work that owns the entity.
// Repositories are not safe for concurrent use.
package repository
