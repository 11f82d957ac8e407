package simulation

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Export writes every table of s to w as MessagePack.
func (s *Store) Export(w io.Writer) error {
	if err := msgpack.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		return fmt.Errorf("simulation: export: %w", err)
	}
	return nil
}

// Import reads a snapshot written by Export and starts s with it.
// Integers decode as int64 and floats as float64.
func (s *Store) Import(r io.Reader) error {
	state, err := DecodeState(r)
	if err != nil {
		return err
	}
	s.Start(state)
	return nil
}

// DecodeState reads a snapshot written by Export.
func DecodeState(r io.Reader) (State, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	var state State
	if err := dec.Decode(&state); err != nil {
		return nil, fmt.Errorf("simulation: import: %w", err)
	}
	return state, nil
}
