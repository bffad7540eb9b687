package models

import (
	"encoding/json"
	"time"
)

// ArtifactVersion is bumped whenever the artifact layout changes
const ArtifactVersion = "1"

// ScalerState is the fitted state of a per-channel scaler. Every method maps
// x to (x - Mean) / Scale.
type ScalerState struct {
	Method string    `json:"method,omitempty"`
	Mean   []float64 `json:"mean"`
	Scale  []float64 `json:"scale"`
}

// Artifact is the persisted form of a fitted estimator: its hyperparameters,
// preprocessing state and the learned parameters of its network.
type Artifact struct {
	ID              string                     `json:"id"`
	Kind            string                     `json:"kind"`
	Version         string                     `json:"version"`
	CreatedAt       time.Time                  `json:"created_at"`
	Hyperparameters json.RawMessage            `json:"hyperparameters"`
	Scaler          *ScalerState               `json:"scaler,omitempty"`
	StateDict       json.RawMessage            `json:"state_dict"`
	Extra           map[string]json.RawMessage `json:"extra,omitempty"`
	Metadata        map[string]string          `json:"metadata,omitempty"`
}

// ModelInfo summarises a stored artifact for listings
type ModelInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
