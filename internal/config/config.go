// Package config defines service configuration structures and loading hooks.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9090".
	Addr string `koanf:"addr"`

	// WakeWord prefixes every spoken command.
	WakeWord string `koanf:"wake_word"`

	// ActuatorBaseURL points at the robot arm HTTP API.
	ActuatorBaseURL string `koanf:"actuator_base_url"`

	// OperatorName and OperatorEmail identify the operator session on login.
	OperatorName  string `koanf:"operator_name"`
	OperatorEmail string `koanf:"operator_email"`

	// ActuatorCallTimeoutMS bounds each primitive arm action.
	ActuatorCallTimeoutMS int `koanf:"actuator_call_timeout_ms"`

	// RetryBackoffMS is the pause before retrying a timed-out arm action.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`

	// VisionBaseURL points at the detection server.
	VisionBaseURL string `koanf:"vision_base_url"`

	// VisionPollIntervalMS sets the detection polling cadence.
	VisionPollIntervalMS int `koanf:"vision_poll_interval_ms"`

	// MinConfidence drops detections below this score.
	MinConfidence float64 `koanf:"min_confidence"`

	// MaxSnapshotAgeMS bounds how stale a detection snapshot may be when a
	// shot resolves its target.
	MaxSnapshotAgeMS int `koanf:"max_snapshot_age_ms"`

	// CalibrationFile optionally overrides the built-in cup calibration.
	CalibrationFile string `koanf:"calibration_file"`

	// AuthSecret signs operator bearer tokens; AuthDisabled turns the
	// middleware off for local runs against the simulator.
	AuthSecret   string `koanf:"auth_secret"`
	AuthDisabled bool   `koanf:"auth_disabled"`
}

// New creates a Config with defaults. The defaults target a local simulator
// on :8800 and the service itself on :9090.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9090",
		WakeWord:              "robot",
		ActuatorBaseURL:       "http://localhost:8800",
		OperatorName:          "slingbot",
		OperatorEmail:         "slingbot@example.com",
		ActuatorCallTimeoutMS: 30_000,
		RetryBackoffMS:        500,
		VisionBaseURL:         "http://localhost:8800",
		VisionPollIntervalMS:  500,
		MinConfidence:         0.25,
		MaxSnapshotAgeMS:      2_000,
	}
}
