// Package textutil sanitizes user-supplied names before they reach the
// filesystem.
package textutil
