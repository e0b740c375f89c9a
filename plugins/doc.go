// Package plugins hosts content pack subpackages. It contains no runtime code;
// the architecture test alongside it checks that every pack depends only on
// the engine in internal/core and the public packages under pkg/.
package plugins
