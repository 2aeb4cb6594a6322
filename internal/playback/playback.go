// Package playback defines the output side of a session: the sink that plays
// synthesized character audio on the learner's client.
package playback

import (
	"context"

	"github.com/verbly-ai/verbly/pkg/audio"
)

// Sink plays audio clips to the learner. In production the sink is the
// websocket-connected browser; tests substitute a fake.
type Sink interface {
	// Play renders the clip and blocks until playback ends or ctx is
	// cancelled. Cancelling ctx stops playback.
	Play(ctx context.Context, clip audio.Clip) error
}
