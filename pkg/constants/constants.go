package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "tsforecast"
	AppDescription = "Deep learning forecasters and regressors for time series"
	AppVersion     = "0.1.0"
	EnvPrefix      = "TSFORECAST"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Server defaults
	DefaultPort            = 8080
	DefaultHost            = "0.0.0.0"
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxRequestSize  = 32 << 20

	// LTSF forecaster defaults
	DefaultSeqLen        = 96
	DefaultPredLen       = 24
	DefaultNumEpochs     = 16
	DefaultBatchSize     = 8
	DefaultInChannels    = 1
	DefaultLearningRate  = 0.001
	DefaultKernelSize    = 25
	DefaultCriterion     = CriterionMSE
	DefaultOptimizer     = OptimizerAdam
	DefaultShuffle       = true
	DefaultScale         = false
	DefaultIndividual    = false

	// TapNet regressor defaults
	DefaultTapNetEpochs       = 2000
	DefaultTapNetBatchSize    = 16
	DefaultTapNetDropout      = 0.5
	DefaultTapNetDilation     = 1
	DefaultTapNetLSTMDim      = 128
	DefaultTapNetLearningRate = 0.01
	DefaultTapNetPadding      = PaddingSame
	DefaultTapNetLoss         = "mean_squared_error"
	DefaultLeakyReLUSlope     = 0.3

	// Storage defaults
	DefaultModelDir       = "./models"
	DefaultStorageTimeout = 30 * time.Second
	ArtifactExtension     = ".json"
)

// Estimator kinds
const (
	EstimatorLTSFLinear  = "ltsf-linear"
	EstimatorLTSFDLinear = "ltsf-dlinear"
	EstimatorLTSFNLinear = "ltsf-nlinear"
	EstimatorTapNet      = "tapnet-regressor"
)

// Criterion names
const (
	CriterionMSE      = "MSE"
	CriterionL1       = "L1"
	CriterionSmoothL1 = "SmoothL1"
	CriterionHuber    = "Huber"
)

// Optimizer names
const (
	OptimizerAdadelta = "Adadelta"
	OptimizerAdagrad  = "Adagrad"
	OptimizerAdam     = "Adam"
	OptimizerAdamW    = "AdamW"
	OptimizerSGD      = "SGD"
)

// Convolution padding modes
const (
	PaddingSame  = "same"
	PaddingValid = "valid"
)

// Activation names
const (
	ActivationLinear    = "linear"
	ActivationReLU      = "relu"
	ActivationLeakyReLU = "leaky_relu"
	ActivationSigmoid   = "sigmoid"
	ActivationTanh      = "tanh"
)

// Storage backends
const (
	StorageFile     = "file"
	StorageS3       = "s3"
	StorageRedis    = "redis"
	StorageWeaviate = "weaviate"
)

// Series sources
const (
	SourceCSV      = "csv"
	SourceInfluxDB = "influxdb"
	SourcePostgres = "postgres"
)

// Scaling methods
const (
	ScalerMinMax = "minmax"
	ScalerZScore = "zscore"
	ScalerRobust = "robust"
)

// HTTP headers and content types used by the API
const (
	HeaderContentType  = "Content-Type"
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"

	ContentTypeJSON = "application/json"
)
