// Package reg provides memory mapped registers. On hardware they are
// volatile memory; on the host they are plain memory safe for concurrent
// use, which lets drivers run against a simulated register block.
package reg
