package regression

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/networks"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const (
	extraNetwork = "network"
	extraHistory = "history"
)

// Artifact captures the fitted state. The network configuration is stored
// with its channel groups so the same projection is rebuilt on load.
func (r *TapNetRegressor) Artifact() (*models.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.network == nil {
		return nil, notFitted()
	}
	hp, err := json.Marshal(r.params)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode hyperparameters")
	}
	state, err := nn.MarshalState(r.network.Parameters())
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode network state")
	}
	network, err := json.Marshal(r.network.Config())
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode network config")
	}
	history, err := json.Marshal(r.history)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode history")
	}

	return &models.Artifact{
		ID:              uuid.New().String(),
		Kind:            constants.EstimatorTapNet,
		Version:         models.ArtifactVersion,
		CreatedAt:       time.Now().UTC(),
		Hyperparameters: hp,
		StateDict:       state,
		Extra: map[string]json.RawMessage{
			extraNetwork: network,
			extraHistory: history,
		},
	}, nil
}

// Save writes the fitted regressor to w as a JSON artifact
func (r *TapNetRegressor) Save(w io.Writer) error {
	artifact, err := r.Artifact()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to write artifact")
	}
	return nil
}

func loadFailed(err error, message string) error {
	return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeModelLoadFailed, message)
}

// LoadArtifact restores the regressor from a decoded artifact. The artifact's
// hyperparameters replace the receiver's.
func (r *TapNetRegressor) LoadArtifact(artifact *models.Artifact) error {
	if artifact.Kind != constants.EstimatorTapNet {
		return loadFailed(errors.ErrModelLoadFailed,
			fmt.Sprintf("artifact holds a %s model, not %s", artifact.Kind, constants.EstimatorTapNet))
	}
	var params TapNetParams
	if err := json.Unmarshal(artifact.Hyperparameters, &params); err != nil {
		return loadFailed(err, "failed to decode hyperparameters")
	}
	if err := params.Validate(); err != nil {
		return err
	}
	raw, ok := artifact.Extra[extraNetwork]
	if !ok {
		return loadFailed(errors.ErrModelLoadFailed, "artifact has no network configuration")
	}
	var cfg networks.TapNetConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return loadFailed(err, "failed to decode network configuration")
	}
	var history *models.TrainingHistory
	if raw, ok := artifact.Extra[extraHistory]; ok {
		if err := json.Unmarshal(raw, &history); err != nil {
			return loadFailed(err, "failed to decode history")
		}
	}

	network, err := networks.NewTapNet(cfg, r.rng)
	if err != nil {
		return loadFailed(err, "failed to rebuild network")
	}
	if err := nn.UnmarshalState(artifact.StateDict, network.Parameters()); err != nil {
		return loadFailed(err, "failed to restore network state")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = params
	r.network = network
	r.history = history

	r.logger.WithFields(logrus.Fields{
		"estimator":   constants.EstimatorTapNet,
		"artifact_id": artifact.ID,
	}).Info("Loaded regressor")
	return nil
}

// Load restores a regressor written by Save
func (r *TapNetRegressor) Load(rd io.Reader) error {
	var artifact models.Artifact
	if err := json.NewDecoder(rd).Decode(&artifact); err != nil {
		return loadFailed(err, "failed to decode artifact")
	}
	return r.LoadArtifact(&artifact)
}

// SaveTo writes the fitted regressor to store under key
func (r *TapNetRegressor) SaveTo(ctx context.Context, store interfaces.ModelStore, key string) error {
	if store == nil {
		return errors.NewConfigurationError(errors.CodeNotConfigured, "no model store configured")
	}
	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		return err
	}
	return store.Save(ctx, key, buf.Bytes())
}

// LoadFrom restores the regressor stored under key
func (r *TapNetRegressor) LoadFrom(ctx context.Context, store interfaces.ModelStore, key string) error {
	if store == nil {
		return errors.NewConfigurationError(errors.CodeNotConfigured, "no model store configured")
	}
	data, err := store.Load(ctx, key)
	if err != nil {
		return err
	}
	return r.Load(bytes.NewReader(data))
}
