package forecasting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const (
	extraHorizon   = "fh"
	extraTarget    = "y"
	extraExogenous = "X"
	extraHistory   = "history"
)

// tail returns the last n rows of ts sharing its data points. The spacing of
// the full series is recorded as the frequency so a short tail still dates
// its forecasts.
func tail(ts *models.TimeSeries, n int) *models.TimeSeries {
	if ts == nil {
		return nil
	}
	out := *ts
	if out.Frequency == "" {
		if step := ts.Step(); step > 0 {
			out.Frequency = step.String()
		}
	}
	if ts.Len() > n {
		out.DataPoints = ts.DataPoints[ts.Len()-n:]
	}
	return &out
}

func marshalExtra(extra map[string]json.RawMessage, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	extra[key] = data
	return nil
}

// Artifact captures the fitted state. Only the last seq_len observations are
// kept as prediction context.
func (f *BaseDeepForecaster) Artifact() (*models.Artifact, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.network == nil {
		return nil, notFitted(f.kind)
	}
	hp, err := json.Marshal(f.params)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode hyperparameters")
	}
	state, err := nn.MarshalState(f.network.Parameters())
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode network state")
	}

	extra := make(map[string]json.RawMessage)
	for key, v := range map[string]interface{}{
		extraHorizon:   f.fh,
		extraTarget:    tail(f.y, f.params.SeqLen),
		extraExogenous: tail(f.X, f.params.SeqLen),
		extraHistory:   f.history,
	} {
		if err := marshalExtra(extra, key, v); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeModelSaveFailed, "failed to encode artifact")
		}
	}

	artifact := &models.Artifact{
		ID:              uuid.New().String(),
		Kind:            f.kind,
		Version:         models.ArtifactVersion,
		CreatedAt:       time.Now().UTC(),
		Hyperparameters: hp,
		StateDict:       state,
		Extra:           extra,
	}
	if f.scaler != nil {
		artifact.Scaler = f.scaler.State()
	}
	return artifact, nil
}

// Save writes the fitted forecaster to w as a JSON artifact
func (f *BaseDeepForecaster) Save(w io.Writer) error {
	artifact, err := f.Artifact()
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

// LoadArtifact restores the forecaster from a decoded artifact. The
// artifact's hyperparameters replace the receiver's.
func (f *BaseDeepForecaster) LoadArtifact(artifact *models.Artifact) error {
	if artifact.Kind != f.kind {
		return loadFailed(errors.ErrModelLoadFailed,
			fmt.Sprintf("artifact holds a %s model, not %s", artifact.Kind, f.kind))
	}
	var params Hyperparameters
	if err := json.Unmarshal(artifact.Hyperparameters, &params); err != nil {
		return loadFailed(err, "failed to decode hyperparameters")
	}
	if err := params.Validate(f.checkKernel); err != nil {
		return err
	}

	network, err := f.build(params, f.rng)
	if err != nil {
		return loadFailed(err, "failed to rebuild network")
	}
	if err := nn.UnmarshalState(artifact.StateDict, network.Parameters()); err != nil {
		return loadFailed(err, "failed to restore network state")
	}

	var scaler *dataset.DataScaler
	if artifact.Scaler != nil {
		if scaler, err = dataset.NewScalerFromState(artifact.Scaler); err != nil {
			return loadFailed(err, "failed to restore scaler")
		}
	}

	var (
		fh      models.ForecastingHorizon
		y, X    *models.TimeSeries
		history *models.TrainingHistory
	)
	targets := map[string]interface{}{
		extraHorizon:   &fh,
		extraTarget:    &y,
		extraExogenous: &X,
		extraHistory:   &history,
	}
	for key, dst := range targets {
		raw, ok := artifact.Extra[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return loadFailed(err, fmt.Sprintf("failed to decode %s", key))
		}
	}
	if y == nil {
		return loadFailed(errors.ErrModelLoadFailed, "artifact has no observed series")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
	f.network = network
	f.scaler = scaler
	f.fh = fh
	f.y, f.X = y, X
	f.history = history

	f.logger.WithFields(logrus.Fields{
		"estimator":   f.kind,
		"artifact_id": artifact.ID,
	}).Info("Loaded forecaster")
	return nil
}

// Load restores a forecaster written by Save
func (f *BaseDeepForecaster) Load(r io.Reader) error {
	var artifact models.Artifact
	if err := json.NewDecoder(r).Decode(&artifact); err != nil {
		return loadFailed(err, "failed to decode artifact")
	}
	return f.LoadArtifact(&artifact)
}

// SaveTo writes the fitted forecaster to store under key
func (f *BaseDeepForecaster) SaveTo(ctx context.Context, store interfaces.ModelStore, key string) error {
	if store == nil {
		return errors.NewConfigurationError(errors.CodeNotConfigured, "no model store configured")
	}
	var buf bytes.Buffer
	if err := f.Save(&buf); err != nil {
		return err
	}
	return store.Save(ctx, key, buf.Bytes())
}

// LoadFrom restores the forecaster stored under key
func (f *BaseDeepForecaster) LoadFrom(ctx context.Context, store interfaces.ModelStore, key string) error {
	if store == nil {
		return errors.NewConfigurationError(errors.CodeNotConfigured, "no model store configured")
	}
	data, err := store.Load(ctx, key)
	if err != nil {
		return err
	}
	return f.Load(bytes.NewReader(data))
}
