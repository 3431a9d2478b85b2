// Package sidelinelog holds the package-wide logger used across pkg/sideline,
// mirroring the single global logger convention grafana/tempo uses in
// pkg/util/log.
package sidelinelog

import (
	"os"

	"github.com/go-kit/log"
)

// Logger is the logger used by the sideline consumer core. It defaults to a
// logfmt logger over stderr; embedding applications may replace it at
// program startup (before any Consumer is opened).
var Logger log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
