package ir

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrMalformed marks configurator output that cannot be turned into a Graph.
var ErrMalformed = errors.New("malformed graph")

// Decode reads one graph document and checks its structural shape.
func Decode(r io.Reader) (*Graph, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	// kv and inputs values keep their literal number text.
	dec.UseNumber()
	var g Graph
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the shape of a decoded graph: every node has a uid and no
// node list entry is null. Reference integrity is checked by the passes that
// rely on it.
func Validate(g *Graph) error {
	if g.Graph == nil {
		g.Graph = []*Node{}
	}
	if g.Result == nil {
		g.Result = []string{}
	}
	for i, n := range g.Graph {
		if n == nil {
			return fmt.Errorf("%w: node #%d is null", ErrMalformed, i)
		}
		if n.UID == "" {
			return fmt.Errorf("%w: node #%d has no uid (outputs %v)", ErrMalformed, i, n.Outputs)
		}
		for _, d := range n.Deps {
			if d == "" {
				return fmt.Errorf("%w: node %s has an empty dependency", ErrMalformed, n.UID)
			}
		}
		for j, c := range n.Cmds {
			if len(c.Args) == 0 {
				return fmt.Errorf("%w: node %s command #%d has no arguments", ErrMalformed, n.UID, j)
			}
		}
	}
	return nil
}

// Encode writes the graph as a single JSON document.
func Encode(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(g); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}

// ReadFile decodes a graph document from path.
func ReadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph %s: %w", path, err)
	}
	defer f.Close()

	g, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph %s: %w", path, err)
	}
	return g, nil
}

// WriteFile encodes the graph to path, creating parent directories.
func WriteFile(path string, g *Graph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create graph directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create graph file %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := Encode(w, g); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write graph file %s: %w", path, err)
	}
	return f.Close()
}

// unmarshalWithExtra decodes data into v and returns every top-level key not
// listed in known.
func unmarshalWithExtra(data []byte, v any, known []string) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// marshalWithExtra encodes v and folds extra keys into the resulting object.
// Modelled keys take precedence over extra keys of the same name.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := obj[k]; !ok {
			obj[k] = raw
		}
	}
	return json.Marshal(obj)
}
