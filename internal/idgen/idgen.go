// Package idgen generates the prefixed nanoid identifiers used for panels
// entities. The prefix tells what an id names: "gr-" a graph, "db-" a
// dashboard, "s-" a live sender.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/alfredjeanlab/panels/internal/model"
)

const (
	DashboardPrefix = "db-"
	UserPrefix      = "u-"
	IconPrefix      = "ic-"
	SenderPrefix    = "s-"
	InstancePrefix  = "i-"
)

// Alphabet is the character set of the random part of an id.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters after the prefix.
const Length = 10

// GenerateWithPrefix returns a new id with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// ForKind returns a new component id carrying kind's prefix.
func ForKind(kind model.Kind) (string, error) {
	return GenerateWithPrefix(kind.IDPrefix())
}

func Dashboard() (string, error) { return GenerateWithPrefix(DashboardPrefix) }
func User() (string, error)      { return GenerateWithPrefix(UserPrefix) }
func Icon() (string, error)      { return GenerateWithPrefix(IconPrefix) }
func Sender() (string, error)    { return GenerateWithPrefix(SenderPrefix) }
func Instance() (string, error)  { return GenerateWithPrefix(InstancePrefix) }

// KindOf returns the component kind whose prefix id carries. Ids created
// elsewhere may carry no known prefix.
func KindOf(id string) (model.Kind, bool) {
	for _, k := range model.Kinds() {
		if strings.HasPrefix(id, k.IDPrefix()) && len(id) > len(k.IDPrefix()) {
			return k, true
		}
	}
	return "", false
}
