// Package mapping derives single-table descriptors from Bun models and
// normalizes primary-key values into fixed-size key tuples.
package mapping
