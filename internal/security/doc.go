// Package security derives a posture summary from engine configuration. It has no side
// effects and does not import the root package.
package security
