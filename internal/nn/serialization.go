package nn

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// stateEntry is the JSON form of one parameter. Data is gonum's binary
// encoding of the matrix, base64-encoded by encoding/json.
type stateEntry struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	Data []byte `json:"data"`
}

type stateDict struct {
	Format string       `json:"format"`
	Params []stateEntry `json:"params"`
}

const stateDictFormat = "gonum-dense/v1"

// MarshalState encodes the values of params in order
func MarshalState(params []*Param) (json.RawMessage, error) {
	sd := stateDict{Format: stateDictFormat, Params: make([]stateEntry, 0, len(params))}
	for _, p := range params {
		data, err := p.Value.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.Name, err)
		}
		r, c := p.Value.Dims()
		sd.Params = append(sd.Params, stateEntry{Name: p.Name, Rows: r, Cols: c, Data: data})
	}
	return json.Marshal(sd)
}

// UnmarshalState restores params from data written by MarshalState. Names
// and shapes must match exactly.
func UnmarshalState(data json.RawMessage, params []*Param) error {
	var sd stateDict
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("decode state dict: %w", err)
	}
	if sd.Format != stateDictFormat {
		return fmt.Errorf("unsupported state dict format %q", sd.Format)
	}
	if len(sd.Params) != len(params) {
		return fmt.Errorf("state dict holds %d parameters, network has %d", len(sd.Params), len(params))
	}
	for i, p := range params {
		entry := sd.Params[i]
		if entry.Name != p.Name {
			return fmt.Errorf("parameter %d: expected %s, found %s", i, p.Name, entry.Name)
		}
		var m mat.Dense
		if err := m.UnmarshalBinary(entry.Data); err != nil {
			return fmt.Errorf("decode %s: %w", p.Name, err)
		}
		r, c := p.Value.Dims()
		mr, mc := m.Dims()
		if r != mr || c != mc {
			return fmt.Errorf("parameter %s: shape %dx%d does not match %dx%d", p.Name, mr, mc, r, c)
		}
		p.Value.Copy(&m)
	}
	return nil
}
