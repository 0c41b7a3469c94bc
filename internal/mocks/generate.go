// Package mocks holds gomock mocks of the interfaces the runner and
// scheduler depend on.
//
// Regenerate after interface changes with:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=extractor_mock.go github.com/rishansujesh/ads-warehouse/internal/extract Extractor
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=sink_mock.go github.com/rishansujesh/ads-warehouse/internal/notify Sink
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=loader_mock.go github.com/rishansujesh/ads-warehouse/internal/worker Loader
