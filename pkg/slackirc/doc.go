// Package slackirc implements a single-user IRC server that bridges an
// unmodified IRC client to a Slack workspace. It keeps a local view of the
// workspace roster, channels and threads, translates Slack markup to IRC
// lines and back, and drives the side channels (uploads, typing indicators,
// reactions, history backfill).
package slackirc

import (
	"github.com/coredhcp/coredhcp/logger"
)

var log = logger.GetLogger("slackirc")
