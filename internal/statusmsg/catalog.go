// Package statusmsg loads the scheduler's status-message catalog: a TOML
// document mapping an error-kind key to a status code and a templated
// message. It mirrors the original message_manager module, which backed the
// same catalog with a TOML file next to it.
package statusmsg

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/mqc3/scheduler/internal/errs"
)

// Message is a resolved (code, text) pair for one error kind.
type Message struct {
	Code    string `toml:"code"`
	Message string `toml:"message"`
}

type catalogDoc struct {
	Messages map[string]Message `toml:"messages"`
}

//go:embed catalog.toml
var defaultCatalogTOML []byte

// Catalog is a loaded, read-only status-message catalog. It is safe for
// concurrent use after construction.
type Catalog struct {
	mu       sync.RWMutex
	messages map[string]Message
}

// Load parses raw as the catalog TOML document.
func Load(raw []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("statusmsg: parse catalog: %w", err)
	}
	return &Catalog{messages: doc.Messages}, nil
}

// Default returns the catalog embedded in the binary, matching §7 of the
// scheduler's error handling design exactly.
func Default() *Catalog {
	cat, err := Load(defaultCatalogTOML)
	if err != nil {
		// The embedded catalog is built into the binary; a parse failure
		// here is a packaging bug, not a runtime condition callers can
		// recover from.
		panic(err)
	}
	return cat
}

// Get renders the message for key, substituting named template arguments of
// the form "{name}". Unknown keys fall back to the UNKNOWN entry.
func (c *Catalog) Get(key string, args map[string]string) *errs.Error {
	c.mu.RLock()
	msg, ok := c.messages[key]
	if !ok {
		msg = c.messages["UNKNOWN"]
	}
	c.mu.RUnlock()

	text := msg.Message
	for k, v := range args {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}

	return &errs.Error{
		Kind:    errs.Kind(key),
		Code:    errs.Code(msg.Code),
		Message: text,
		Details: args,
	}
}
