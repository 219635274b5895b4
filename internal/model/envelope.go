package model

import (
	"encoding/json"
	"fmt"
)

// ParametersVersion is the current schema version of stored parameters
const ParametersVersion = 1

type parametersEnvelope struct {
	Version    int               `json:"version"`
	Parameters TestingParameters `json:"parameters"`
}

// EncodeParameters wraps parameters in the versioned storage envelope
// {"version":1,"parameters":{...}}.
func EncodeParameters(p TestingParameters) ([]byte, error) {
	return json.Marshal(parametersEnvelope{Version: ParametersVersion, Parameters: p})
}

// DecodeParameters reads a stored parameters blob. Unversioned blobs are a
// bare map of parameter fields; fields missing from either form keep their
// defaults.
func DecodeParameters(raw []byte) (TestingParameters, error) {
	params := DefaultParameters()
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return params, fmt.Errorf("parameters blob is not a JSON object: %w", err)
	}

	versionRaw, versioned := probe["version"]
	if !versioned {
		if err := json.Unmarshal(raw, &params); err != nil {
			return params, fmt.Errorf("migrating unversioned parameters: %w", err)
		}
		return params, nil
	}

	var version int
	if err := json.Unmarshal(versionRaw, &version); err != nil || version < 1 || version > ParametersVersion {
		return params, fmt.Errorf("unsupported parameters version %s", string(versionRaw))
	}
	if p, ok := probe["parameters"]; ok {
		if err := json.Unmarshal(p, &params); err != nil {
			return params, fmt.Errorf("decoding parameters: %w", err)
		}
	}
	return params, nil
}
