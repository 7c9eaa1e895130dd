// Package submemd implements a memcached-compatible binary-protocol
// server extended with Couchbase-style sub-document operations: reading
// and mutating a single JSON path inside a stored document without
// fetching and re-storing the whole value.
//
// The wire codec lives in package wire, per-opcode structural
// validation in package validate, the sub-document JSON engine in
// package subdocop, the single- and multi-path execution orchestration
// in package subdocexec, bucket lifecycle in package bucket, and the
// accept loop tying them together in package server. package client
// provides a cluster-aware binary-protocol client for the same wire
// format, and cmd/subdocd is a thin reference daemon exercising the
// whole stack end to end.
package submemd
