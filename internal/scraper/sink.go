package scraper

import (
	"context"
	"errors"
)

// MultiSink fans one result out to several sinks. Every sink sees the
// result even when an earlier one fails; errors are joined.
type MultiSink []ResultSink

var _ ResultSink = (MultiSink)(nil)

// Upload forwards the result to each sink in order.
func (m MultiSink) Upload(ctx context.Context, result ScrapeResult) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Upload(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
