// Package config loads glitterd configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file and GLITTER_* environment variables. Later layers only override the
// fields they set.
//
//	detector:
//	  targetFps: 30
//	  maxImageDecimationFactor: 2.5
//	  detectTimeout: 500ms
//	codes: [1, 2, 3]
//	source:
//	  kind: synthetic
//	  width: 1280
//	  height: 720
//	server:
//	  addr: ":8080"
//	logging:
//	  level: debug
//	  format: json
//
// The equivalent environment overrides are GLITTER_DETECTOR_TARGET_FPS,
// GLITTER_CODES=1,2,3, GLITTER_SOURCE_WIDTH, GLITTER_SERVER_ADDR,
// GLITTER_LOGGING_LEVEL and so on.
package config
