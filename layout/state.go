package layout

import "encoding/json"

// encodeState serializes a State for configstore persistence.
func encodeState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// decodeState deserializes a State previously written by encodeState.
func decodeState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	return s, nil
}
