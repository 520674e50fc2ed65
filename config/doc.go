// Package config loads, validates and saves flexbuf relay configuration.
//
// A configuration starts from Default and is overlaid by JSON or YAML files
// (chosen by extension) and then by FLEXBUF_* environment variables:
//
//	loader := config.NewLoader()
//	loader.AddLayer("relay.yaml")
//	loader.AddLayer("relay.production.yaml") // overrides relay.yaml
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Every file is checked against an embedded JSON schema (see Schema) before
// it is decoded, so typos in keys are rejected rather than ignored. Validate
// then checks cross-field rules such as chunk sizes fitting the buffer.
//
// # Durations
//
// Duration fields accept Go duration strings ("250ms", "1m30s"), day counts
// ("2d"), integer milliseconds, or "infinite":
//
//	producer:
//	  chunk: 256
//	  timeout: 1s
//	consumer:
//	  chunk: 1024
//	  timeout: infinite
//
// # Environment Variable Overrides
//
//	export FLEXBUF_BUFFER_CAPACITY=65536
//	export FLEXBUF_NATS_URLS="nats://server1:4222,nats://server2:4222"
//	export FLEXBUF_LOG_LEVEL=debug
//
// # Security
//
// Config files are limited to 10MB, must be regular files, and relative
// paths may not escape the working directory. JSON nesting is limited to
// 100 levels.
package config
