// Package memory holds in-process implementations of the job/media store and
// the page archive, used for development and tests.
package memory
