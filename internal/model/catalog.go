package model

// PresetParams are named mask-generator parameter sets, configurable per
// model under segment.presets in the config file.
type PresetParams struct {
	ConfidenceThreshold float64 `json:"confidenceThreshold" mapstructure:"confidence_threshold"`
	MaxMasks            int     `json:"maxMasks" mapstructure:"max_masks"`
	MaxDimension        int     `json:"maxDimension" mapstructure:"max_dimension"`
	PointsPerSide       int     `json:"pointsPerSide,omitempty" mapstructure:"points_per_side"`
}

// ModelInfo describes one segmentation model the backend can dispatch to.
type ModelInfo struct {
	Key     string      `json:"key"`
	Family  ModelFamily `json:"family"`
	Remote  bool        `json:"remote"`
	Presets []string    `json:"presets"`
}

// ModelListResponse is the response for GET /api/models
type ModelListResponse struct {
	Models  []ModelInfo `json:"models"`
	Default string      `json:"default"`
}
