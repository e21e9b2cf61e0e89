// Package memory provides in-process implementations of the store interfaces.
// Each store guards its state with a single mutex, which makes every operation
// atomic with respect to concurrent callers. State can optionally be mirrored
// to a JSON snapshot file so a single-node deployment survives restarts.
package memory
