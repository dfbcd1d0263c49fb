// Package dagsearch implements the concurrent state store and parallel
// expansion driver behind a beam search over a DAG-structured decoder
// output: an arena-backed pool allocator, a lock-free concurrent hash map
// used in three specializations, a per-node quick-map for the common case
// of few step entries, and the per-worker caches that batch writes into
// those maps during a step's parallel expansion.
//
// The neural network producing candidate tensors, the n-gram language
// model's internal scoring logic, and output backtrace/pruning are outside
// this package; it consumes tensor views and an opaque LanguageModel and
// produces the node/notification state those later stages read.
package dagsearch
