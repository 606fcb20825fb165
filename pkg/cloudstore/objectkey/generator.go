// Package objectkey builds blob store keys for content objects. Keys are
// derived only from system-generated identifiers, never from display names.
package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates the key for an object inside a storage area
	GenerateKey(segment string, objectID uuid.UUID) string
}

// FlatGenerator places every object directly under the area.
// Structure: {segment}/objects/{object_id}
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) GenerateKey(segment string, objectID uuid.UUID) string {
	return fmt.Sprintf("%s/objects/%s", segment, objectID)
}

// GitLikeGenerator provides Git-style sharding inside each area
// Structure: {segment}/objects/ab/cd1234ef5678...
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(segment string, objectID uuid.UUID) string {
	hex := strings.ReplaceAll(objectID.String(), "-", "")

	shard := g.ShardLength
	if shard <= 0 || shard >= len(hex) {
		shard = 2
	}

	return fmt.Sprintf("%s/objects/%s/%s", segment, hex[:shard], hex[shard:])
}

// CustomFuncGenerator allows callers to provide their own key function
type CustomFuncGenerator struct {
	GenerateFunc func(segment string, objectID uuid.UUID) string
}

func NewCustomFuncGenerator(fn func(segment string, objectID uuid.UUID) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(segment string, objectID uuid.UUID) string {
	return g.GenerateFunc(segment, objectID)
}

// NewSegment returns a fresh opaque area segment.
func NewSegment() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidSegment reports whether s is a single safe path component.
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ValidKey reports whether key is a relative slash-separated path made of
// safe components.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if !ValidSegment(part) {
			return false
		}
	}
	return true
}

// Segment returns the area segment a key belongs to.
func Segment(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}
