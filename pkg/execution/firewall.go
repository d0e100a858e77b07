package execution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

var (
	ErrTypeNotAllowed = errors.New("execution type not allowed")
	ErrInvalidParams  = errors.New("invalid input params")
)

// Firewall admits only allowlisted execution types and, where a schema is
// registered, only input params that validate against it.
type Firewall struct {
	allowed map[contracts.ExecutionType]bool
	schema  map[contracts.ExecutionType]*jsonschema.Schema
}

func NewFirewall() *Firewall {
	return &Firewall{
		allowed: make(map[contracts.ExecutionType]bool),
		schema:  make(map[contracts.ExecutionType]*jsonschema.Schema),
	}
}

// Allow adds t to the allowlist. A non-empty schema is compiled as a
// draft 2020-12 JSON schema for t's params.
func (f *Firewall) Allow(t contracts.ExecutionType, schema string) error {
	f.allowed[t] = true
	if schema == "" {
		delete(f.schema, t)
		return nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://treasury.schemas.local/params/%s.schema.json", t)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("firewall schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("firewall schema compile failed: %w", err)
	}
	f.schema[t] = compiled
	return nil
}

// Check admits or rejects one request.
func (f *Firewall) Check(t contracts.ExecutionType, params []byte) error {
	if !f.allowed[t] {
		return fmt.Errorf("firewall blocked %q: %w", t, ErrTypeNotAllowed)
	}
	schema, ok := f.schema[t]
	if !ok {
		return nil
	}
	if len(bytes.TrimSpace(params)) == 0 {
		return fmt.Errorf("firewall blocked %q: %w: missing", t, ErrInvalidParams)
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("firewall blocked %q: %w: %v", t, ErrInvalidParams, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("firewall blocked %q: %w: %v", t, ErrInvalidParams, err)
	}
	return nil
}

// Types returns the allowlist.
func (f *Firewall) Types() []contracts.ExecutionType {
	out := make([]contracts.ExecutionType, 0, len(f.allowed))
	for t := range f.allowed {
		out = append(out, t)
	}
	return out
}
